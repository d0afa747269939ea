package entity

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCredential = errors.New("invalid credential tuple")

// CredentialSet is one parsed login tuple. The raw form is colon-delimited
// (username/email, password, optional TOTP secret), with multiple identities
// comma-separated. Ally carries four OAuth1 fields instead, kept in Extra.
type CredentialSet struct {
	Username   string
	Password   string
	TOTPSecret string
	Extra      []string
}

// HasTOTP reports whether a usable TOTP secret was supplied. The literal
// placeholders NA, none, and false mean absent.
func (c CredentialSet) HasTOTP() bool {
	return c.TOTPSecret != ""
}

// ParseCredentialSets splits a comma-separated list of colon-delimited
// credential tuples into typed sets. minFields guards vendor-specific tuple
// shapes at parse time instead of at each positional access.
func ParseCredentialSets(raw string, minFields int) ([]CredentialSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if minFields < 1 {
		minFields = 1
	}

	var sets []CredentialSet
	for idx, tuple := range strings.Split(raw, ",") {
		tuple = strings.TrimSpace(tuple)
		if tuple == "" {
			continue
		}

		fields := strings.Split(tuple, ":")
		if len(fields) < minFields {
			return nil, fmt.Errorf("%w: tuple %d has %d fields, want at least %d", ErrInvalidCredential, idx+1, len(fields), minFields)
		}

		set := CredentialSet{Username: strings.TrimSpace(fields[0])}
		if set.Username == "" {
			return nil, fmt.Errorf("%w: tuple %d has an empty username", ErrInvalidCredential, idx+1)
		}
		if len(fields) > 1 {
			set.Password = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			set.TOTPSecret = normalizeSecret(fields[2])
		}
		if len(fields) > 3 {
			for _, extra := range fields[3:] {
				set.Extra = append(set.Extra, strings.TrimSpace(extra))
			}
		}

		sets = append(sets, set)
	}

	return sets, nil
}

func normalizeSecret(raw string) string {
	secret := strings.TrimSpace(raw)
	switch strings.ToLower(secret) {
	case "", "na", "none", "false":
		return ""
	}
	return secret
}
