// Command pbxctl produces operator credentials for intercompbx: argon2id
// hashes for --fsapi-password-hash and bearer tokens for the admin API.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/intercompbx/intercompbx/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash-password":
		err = hashPassword(os.Args[2:], os.Stdin, os.Stdout)
	case "admin-token":
		err = adminToken(os.Args[2:], os.Stdout)
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: pbxctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  hash-password   hash a password read from stdin for --fsapi-password-hash")
	fmt.Fprintln(w, "  admin-token     issue a bearer token for the admin API")
}

// hashPassword reads one line from in and writes its argon2id hash to out.
func hashPassword(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	memory := fs.Uint("memory", uint(auth.DefaultParams.Memory), "argon2 memory in KiB")
	iterations := fs.Uint("time", uint(auth.DefaultParams.Time), "argon2 iterations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("password is empty")
	}

	p := auth.DefaultParams
	p.Memory = uint32(*memory)
	p.Time = uint32(*iterations)
	hash, err := p.Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

// adminToken signs a token with the same hex secret the server is started
// with.
func adminToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	secretHex := fs.String("secret", os.Getenv("INTERCOMPBX_ADMIN_JWT_SECRET"), "hex-encoded 32-byte admin jwt secret")
	operator := fs.String("operator", "", "operator name recorded in the token")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *secretHex == "" {
		return fmt.Errorf("-secret is required")
	}
	secret, err := hex.DecodeString(*secretHex)
	if err != nil {
		return fmt.Errorf("decoding secret: %w", err)
	}
	if len(secret) != 32 {
		return fmt.Errorf("secret must decode to 32 bytes, got %d", len(secret))
	}
	if *operator == "" {
		return fmt.Errorf("-operator is required")
	}

	token, expires, err := auth.IssueAdminToken(secret, *operator, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
