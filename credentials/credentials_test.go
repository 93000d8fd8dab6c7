package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestDBPassword_RoundTrip(t *testing.T) {
	keyring.MockInit()
	t.Setenv(PasswordEnvVar, "")

	if err := SetDBPassword("dealbook", "db.local", "s3cret"); err != nil {
		t.Fatalf("SetDBPassword() error = %v", err)
	}

	pw, err := DBPassword("dealbook", "db.local")
	if err != nil {
		t.Fatalf("DBPassword() error = %v", err)
	}
	if pw != "s3cret" {
		t.Errorf("DBPassword() = %q, want %q", pw, "s3cret")
	}

	// Different host is a different account.
	if _, err := DBPassword("dealbook", "other"); !errors.Is(err, ErrNoPassword) {
		t.Errorf("DBPassword(other host) error = %v, want ErrNoPassword", err)
	}

	if err := DeleteDBPassword("dealbook", "db.local"); err != nil {
		t.Fatalf("DeleteDBPassword() error = %v", err)
	}
	if _, err := DBPassword("dealbook", "db.local"); !errors.Is(err, ErrNoPassword) {
		t.Errorf("DBPassword() after delete error = %v, want ErrNoPassword", err)
	}
}

func TestDeleteDBPassword_Missing(t *testing.T) {
	keyring.MockInit()
	if err := DeleteDBPassword("nobody", ""); err != nil {
		t.Errorf("DeleteDBPassword() error = %v, want nil", err)
	}
}

func TestDBPassword_EnvWins(t *testing.T) {
	keyring.MockInit()
	t.Setenv(PasswordEnvVar, "from-env")

	if err := SetDBPassword("dealbook", "", "from-keyring"); err != nil {
		t.Fatalf("SetDBPassword() error = %v", err)
	}
	pw, err := DBPassword("dealbook", "")
	if err != nil {
		t.Fatalf("DBPassword() error = %v", err)
	}
	if pw != "from-env" {
		t.Errorf("DBPassword() = %q, want from-env", pw)
	}
}

func TestSetDBPassword_Invalid(t *testing.T) {
	keyring.MockInit()
	if err := SetDBPassword("", "h", "pw"); err == nil {
		t.Error("expected error for empty user")
	}
	if err := SetDBPassword("u", "h", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Setenv(PasswordEnvVar, "")

	if err := SetDBPassword("u", "", "pw"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("SetDBPassword() error = %v, want ErrKeyringUnavailable", err)
	}
	if _, err := DBPassword("u", ""); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("DBPassword() error = %v, want ErrKeyringUnavailable", err)
	}
}

func TestAccount(t *testing.T) {
	if got := account(" u ", ""); got != "u" {
		t.Errorf("account() = %q, want u", got)
	}
	if got := account("u", "h"); got != "u@h" {
		t.Errorf("account() = %q, want u@h", got)
	}
}
