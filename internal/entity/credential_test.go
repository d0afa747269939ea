package entity

import (
	"errors"
	"testing"
)

func TestParseCredentialSets(t *testing.T) {
	sets, err := ParseCredentialSets("user1@x.com:pass1:JBSWY3DPEHPK3PXP, user2@x.com:pass2:NA", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("len = %d, want 2", len(sets))
	}

	if sets[0].Username != "user1@x.com" || sets[0].Password != "pass1" {
		t.Errorf("first tuple parsed as %+v", sets[0])
	}
	if !sets[0].HasTOTP() {
		t.Error("first tuple should have a TOTP secret")
	}
	if sets[1].HasTOTP() {
		t.Error("NA placeholder should mean no TOTP secret")
	}
}

func TestParseCredentialSetsExtraFields(t *testing.T) {
	sets, err := ParseCredentialSets("ckey:csecret:otoken:osecret", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("len = %d, want 1", len(sets))
	}
	if sets[0].TOTPSecret != "otoken" {
		t.Errorf("third field = %q, want otoken", sets[0].TOTPSecret)
	}
	if len(sets[0].Extra) != 1 || sets[0].Extra[0] != "osecret" {
		t.Errorf("extra = %v, want [osecret]", sets[0].Extra)
	}
}

func TestParseCredentialSetsMinFields(t *testing.T) {
	_, err := ParseCredentialSets("user@x.com:pass", 4)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("error = %v, want ErrInvalidCredential", err)
	}
}

func TestParseCredentialSetsEmpty(t *testing.T) {
	sets, err := ParseCredentialSets("   ", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sets != nil {
		t.Errorf("sets = %v, want nil", sets)
	}
}

func TestParseCredentialSetsEmptyUsername(t *testing.T) {
	_, err := ParseCredentialSets(":pass", 1)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("error = %v, want ErrInvalidCredential", err)
	}
}
