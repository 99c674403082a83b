// Package dialplan resolves signaling events to call actions and builds the
// dialstrings the call-control engine executes.
package dialplan

import (
	"errors"
	"regexp"
)

// ErrInvalidNumber is returned when a number has none of the accepted NANP shapes.
var ErrInvalidNumber = errors.New("not a normalizable e164 number")

var (
	e164Full     = regexp.MustCompile(`^\+1\d{10}$`)
	e164Country  = regexp.MustCompile(`^1\d{10}$`)
	e164National = regexp.MustCompile(`^\d{10}$`)
)

// NormalizeE164 returns number in "+1NXXNXXXXXX" form. Only three shapes are
// accepted: "+1" plus ten digits, "1" plus ten digits, and ten digits.
func NormalizeE164(number string) (string, bool) {
	switch {
	case e164Full.MatchString(number):
		return number, true
	case e164Country.MatchString(number):
		return "+" + number, true
	case e164National.MatchString(number):
		return "+1" + number, true
	}
	return "", false
}
