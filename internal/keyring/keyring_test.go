package keyring

import (
	"errors"
	"testing"

	gokeyring "github.com/zalando/go-keyring"
)

func TestSetAndGetConnectionString(t *testing.T) {
	gokeyring.MockInit()

	testConnStr := "postgres://testuser@localhost:5432/testdb?sslmode=disable"
	if err := SetConnectionString(testConnStr); err != nil {
		t.Fatalf("SetConnectionString() failed: %v", err)
	}

	retrieved, err := GetConnectionString()
	if err != nil {
		t.Fatalf("GetConnectionString() failed: %v", err)
	}
	if retrieved != testConnStr {
		t.Errorf("GetConnectionString() = %q, want %q", retrieved, testConnStr)
	}
}

func TestSetConnectionStringEmpty(t *testing.T) {
	gokeyring.MockInit()

	if err := SetConnectionString(""); err == nil {
		t.Error("SetConnectionString(\"\") should return an error")
	}
}

func TestDeleteConnectionString(t *testing.T) {
	gokeyring.MockInit()

	if err := SetConnectionString("mongodb://localhost:27017"); err != nil {
		t.Fatalf("SetConnectionString() failed: %v", err)
	}
	if err := DeleteConnectionString(); err != nil {
		t.Fatalf("DeleteConnectionString() failed: %v", err)
	}
	if _, err := GetConnectionString(); !errors.Is(err, ErrNotFound) {
		t.Errorf("After DeleteConnectionString(), GetConnectionString() error = %v, want %v", err, ErrNotFound)
	}
	if err := DeleteConnectionString(); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteConnectionString() on empty keyring error = %v, want %v", err, ErrNotFound)
	}
}

func TestSessionTokens(t *testing.T) {
	gokeyring.MockInit()
	tokens := SessionTokens{}

	if _, err := tokens.Get(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on empty keyring error = %v, want %v", err, ErrNotFound)
	}
	if err := tokens.Set(""); err == nil {
		t.Error("Set(\"\") should return an error")
	}
	if err := tokens.Set("jwt-token"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := tokens.Get()
	if err != nil || got != "jwt-token" {
		t.Errorf("Get() = %q, %v; want %q, nil", got, err, "jwt-token")
	}

	// Session and connection string live under different users
	if _, err := GetConnectionString(); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConnectionString() error = %v, want %v", err, ErrNotFound)
	}

	if err := tokens.Delete(); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := tokens.Delete(); err != nil {
		t.Errorf("second Delete() should be a no-op, got %v", err)
	}
}

func TestKeyringUnavailable(t *testing.T) {
	gokeyring.MockInitWithError(errors.New("dbus not running"))
	defer gokeyring.MockInit()

	if _, err := GetConnectionString(); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("GetConnectionString() error = %v, want %v", err, ErrKeyringUnavailable)
	}
	if IsAvailable() {
		t.Error("IsAvailable() = true with a failing keyring")
	}
}
