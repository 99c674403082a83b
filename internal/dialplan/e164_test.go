package dialplan

import "testing"

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   string
		ok     bool
	}{
		{name: "full form unchanged", number: "+14155551234", want: "+14155551234", ok: true},
		{name: "country code prefixed with plus", number: "14155551234", want: "+14155551234", ok: true},
		{name: "national prefixed with plus one", number: "4155551234", want: "+14155551234", ok: true},
		{name: "five digits", number: "12345", ok: false},
		{name: "empty", number: "", ok: false},
		{name: "other country code", number: "+447700900000", ok: false},
		{name: "plus without country code", number: "+4155551234", ok: false},
		{name: "twelve digits", number: "114155551234", ok: false},
		{name: "eleven digits not starting with one", number: "24155551234", ok: false},
		{name: "punctuation", number: "415-555-1234", ok: false},
		{name: "trailing newline", number: "4155551234\n", ok: false},
		{name: "leading space", number: " 4155551234", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeE164(tt.number)
			if ok != tt.ok {
				t.Fatalf("NormalizeE164(%q) ok = %v, want %v", tt.number, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("NormalizeE164(%q) = %q, want %q", tt.number, got, tt.want)
			}
		})
	}
}

func TestNormalizeE164Idempotent(t *testing.T) {
	for _, n := range []string{"+12125550000", "12125550000", "2125550000"} {
		first, ok := NormalizeE164(n)
		if !ok {
			t.Fatalf("NormalizeE164(%q) failed", n)
		}
		second, ok := NormalizeE164(first)
		if !ok || second != first {
			t.Errorf("NormalizeE164(%q) = %q, want %q", first, second, first)
		}
	}
}
