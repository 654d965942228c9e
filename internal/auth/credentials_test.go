package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestConsoleCodeSupplier(t *testing.T) {
	in := strings.NewReader("847291\n")
	var out strings.Builder
	supplier := NewConsoleCodeSupplier(Credentials{Email: "a@b.c", Password: "pw"}, in, &out)

	creds, err := supplier.Credentials(context.Background())
	if err != nil {
		t.Fatalf("credentials failed: %v", err)
	}
	if creds.Email != "a@b.c" || creds.Password != "pw" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	// Credentials must come from the request, not the terminal.
	if strings.Contains(out.String(), "email") {
		t.Fatal("supplier prompted for credentials it already has")
	}

	code, err := supplier.OneTimeCode(context.Background())
	if err != nil {
		t.Fatalf("code prompt failed: %v", err)
	}
	if code != "847291" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestConsoleCodeSupplierRequiresCredentials(t *testing.T) {
	supplier := NewConsoleCodeSupplier(Credentials{Email: "a@b.c"}, strings.NewReader(""), &strings.Builder{})
	if _, err := supplier.Credentials(context.Background()); err == nil {
		t.Fatal("expected error for missing password")
	}
}

func TestInboxSupplierDeliversRegisteredCode(t *testing.T) {
	supplier := NewInboxSupplier(Credentials{Email: "a@b.c", Password: "pw"}, time.Second)
	supplier.RegisterCode("112233")

	code, err := supplier.OneTimeCode(context.Background())
	if err != nil {
		t.Fatalf("code not delivered: %v", err)
	}
	if code != "112233" {
		t.Fatalf("unexpected code %q", code)
	}
}
