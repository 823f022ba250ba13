// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PassphrasePolicy defines requirements for the backup passphrase.
// The passphrase protects every artifact ever written, so length matters far
// more than character classes; class checks only produce warnings.
type PassphrasePolicy struct {
	// MinLength is the minimum passphrase length in characters
	MinLength int

	// MaxConsecutiveRepeats is the maximum allowed run of one character (0 = disabled)
	MaxConsecutiveRepeats int

	// ForbidCommon blocks well-known passwords and trivial patterns
	ForbidCommon bool
}

// DefaultPassphrasePolicy returns the policy applied to BACKUP_PASSWORD.
func DefaultPassphrasePolicy() PassphrasePolicy {
	return PassphrasePolicy{
		MinLength:             12,
		MaxConsecutiveRepeats: 4,
		ForbidCommon:          true,
	}
}

// PassphraseStrength indicates the overall passphrase strength.
type PassphraseStrength int

const (
	PassphraseStrengthWeak PassphraseStrength = iota
	PassphraseStrengthFair
	PassphraseStrengthGood
	PassphraseStrengthStrong
)

// String returns the string representation of passphrase strength.
func (s PassphraseStrength) String() string {
	switch s {
	case PassphraseStrengthWeak:
		return "weak"
	case PassphraseStrengthFair:
		return "fair"
	case PassphraseStrengthGood:
		return "good"
	case PassphraseStrengthStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PassphraseValidationResult contains details about passphrase validation.
type PassphraseValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Strength PassphraseStrength
}

// Validate checks a passphrase against the policy.
func (p PassphrasePolicy) Validate(passphrase string) PassphraseValidationResult {
	result := PassphraseValidationResult{Valid: true}

	length := utf8.RuneCountInString(passphrase)
	if length < p.MinLength {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("must be at least %d characters (got %d)", p.MinLength, length))
	}

	if p.MaxConsecutiveRepeats > 0 && maxConsecutiveRepeats(passphrase) > p.MaxConsecutiveRepeats {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("cannot have more than %d consecutive repeated characters", p.MaxConsecutiveRepeats))
	}

	if p.ForbidCommon && isCommonPassphrase(passphrase) {
		result.Valid = false
		result.Errors = append(result.Errors, "is too common and easily guessable")
	}

	result.Strength = passphraseStrength(passphrase)
	if result.Valid && result.Strength < PassphraseStrengthGood {
		result.Warnings = append(result.Warnings,
			"consider a longer passphrase or more character variety")
	}

	return result
}

// maxConsecutiveRepeats returns the maximum number of consecutive repeated characters.
func maxConsecutiveRepeats(s string) int {
	if s == "" {
		return 0
	}
	maxRepeats := 1
	current := 1
	var last rune
	for i, r := range s {
		if i > 0 && r == last {
			current++
			if current > maxRepeats {
				maxRepeats = current
			}
		} else {
			current = 1
		}
		last = r
	}
	return maxRepeats
}

// passphraseStrength scores length and character variety.
func passphraseStrength(s string) PassphraseStrength {
	var upper, lower, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	score := 0
	for _, present := range []bool{upper, lower, digit, special} {
		if present {
			score++
		}
	}
	length := utf8.RuneCountInString(s)
	switch {
	case length >= 24:
		score += 3
	case length >= 16:
		score += 2
	case length >= 12:
		score++
	}

	switch {
	case score >= 6:
		return PassphraseStrengthStrong
	case score >= 4:
		return PassphraseStrengthGood
	case score >= 3:
		return PassphraseStrengthFair
	default:
		return PassphraseStrengthWeak
	}
}

// commonPassphrases contains well-known passwords that clear the length bar.
var commonPassphrases = map[string]struct{}{
	"password1234":              {},
	"password12345":             {},
	"password123456":            {},
	"123456789012":              {},
	"qwertyuiop12":              {},
	"qwertyuiopasdf":            {},
	"iloveyou1234":              {},
	"changeme1234":              {},
	"letmein12345":              {},
	"administrator":             {},
	"administrator1":            {},
	"passwordpassword":          {},
	"correcthorsebatterystaple": {},
	"backuppassword":            {},
	"backup-password":           {},
}

// isCommonPassphrase checks well-known values and trivial sequences.
func isCommonPassphrase(s string) bool {
	lower := strings.ToLower(s)
	if _, ok := commonPassphrases[lower]; ok {
		return true
	}
	return isSequential(lower)
}

// isSequential reports whether every character follows its predecessor by +1
// or -1, as in "abcdefghijkl" or "210987654321".
func isSequential(s string) bool {
	if len(s) < 2 {
		return false
	}
	step := int(s[1]) - int(s[0])
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(s); i++ {
		if int(s[i])-int(s[i-1]) != step {
			return false
		}
	}
	return true
}
