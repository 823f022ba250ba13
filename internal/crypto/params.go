// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package crypto wraps the symmetric cipher used for backup artifacts.
//
// Artifacts use the `openssl enc` container: an optional "Salted__" header
// with an 8-byte salt, followed by AES-CBC ciphertext with PKCS#7 padding.
// The key and IV are derived from the passphrase by a named parameter set.
//
// Exactly one parameter set is current and used for every new artifact.
// Retired sets stay in the suite so older artifacts remain decryptable;
// decryption tries the current set first, then each legacy set from newest
// to oldest, and only accepts an attempt whose plaintext passes the caller's
// structural check.
package crypto

import (
	"crypto/md5"  //nolint:gosec // EVP_BytesToKey compatibility for legacy artifacts
	"crypto/sha1" //nolint:gosec // selectable KDF digest for legacy artifacts
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strconv"
)

// KDF names a key derivation function.
type KDF string

const (
	// KDFPBKDF2 is PBKDF2-HMAC (openssl -pbkdf2).
	KDFPBKDF2 KDF = "pbkdf2"
	// KDFEVP is EVP_BytesToKey, the openssl default before 1.1.1.
	KDFEVP KDF = "evp"
)

// ErrInvalidParameters is returned for an unusable parameter set.
var ErrInvalidParameters = errors.New("invalid encryption parameters")

// Parameters is a named, versioned cipher configuration.
type Parameters struct {
	Name       string `json:"name"`
	Cipher     string `json:"cipher"`
	Salted     bool   `json:"salted"`
	KDF        KDF    `json:"kdf"`
	Digest     string `json:"digest"`
	Iterations int    `json:"iterations"`
}

// String renders the set for logs, e.g. "v3 (aes-256-cbc, pbkdf2-sha256, 100000 iter)".
func (p Parameters) String() string {
	salt := ""
	if !p.Salted {
		salt = ", nosalt"
	}
	return fmt.Sprintf("%s (%s, %s-%s, %d iter%s)", p.Name, p.Cipher, p.KDF, p.Digest, p.Iterations, salt)
}

// Validate checks that the set can be used by both cipher implementations.
func (p Parameters) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidParameters)
	}
	if _, err := p.keyLength(); err != nil {
		return err
	}
	if _, err := p.hashFunc(); err != nil {
		return err
	}
	switch p.KDF {
	case KDFPBKDF2:
		if !p.Salted {
			return fmt.Errorf("%w: %s: pbkdf2 requires a salt", ErrInvalidParameters, p.Name)
		}
		if p.Iterations < 1 {
			return fmt.Errorf("%w: %s: pbkdf2 requires iterations >= 1", ErrInvalidParameters, p.Name)
		}
	case KDFEVP:
		// openssl only exposes a single round for EVP_BytesToKey
		if p.Iterations != 1 {
			return fmt.Errorf("%w: %s: evp supports exactly 1 iteration", ErrInvalidParameters, p.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kdf %q", ErrInvalidParameters, p.Name, p.KDF)
	}
	return nil
}

// keyLength returns the AES key size for the cipher name.
func (p Parameters) keyLength() (int, error) {
	switch p.Cipher {
	case "aes-128-cbc":
		return 16, nil
	case "aes-192-cbc":
		return 24, nil
	case "aes-256-cbc":
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported cipher %q", ErrInvalidParameters, p.Name, p.Cipher)
	}
}

func (p Parameters) hashFunc() (func() hash.Hash, error) {
	switch p.Digest {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported digest %q", ErrInvalidParameters, p.Name, p.Digest)
	}
}

// opensslArgs returns `openssl enc` arguments for this set, without I/O
// and passphrase flags.
func (p Parameters) opensslArgs(decrypt bool) []string {
	args := []string{"enc", "-" + p.Cipher}
	if decrypt {
		args = append(args, "-d")
	}
	if p.Salted {
		args = append(args, "-salt")
	} else {
		args = append(args, "-nosalt")
	}
	if p.KDF == KDFPBKDF2 {
		args = append(args, "-pbkdf2", "-iter", strconv.Itoa(p.Iterations))
	}
	return append(args, "-md", p.Digest)
}

// Built-in parameter sets, newest first.
var (
	// ParamsV3 is the current set: PBKDF2-SHA256 with 100000 iterations.
	ParamsV3 = Parameters{Name: "v3", Cipher: "aes-256-cbc", Salted: true, KDF: KDFPBKDF2, Digest: "sha256", Iterations: 100000}

	// ParamsV2 is PBKDF2-SHA256 with openssl's 10000 iteration default.
	ParamsV2 = Parameters{Name: "v2", Cipher: "aes-256-cbc", Salted: true, KDF: KDFPBKDF2, Digest: "sha256", Iterations: 10000}

	// ParamsV1 is salted EVP_BytesToKey with MD5, the openssl default before 1.1.1.
	ParamsV1 = Parameters{Name: "v1", Cipher: "aes-256-cbc", Salted: true, KDF: KDFEVP, Digest: "md5", Iterations: 1}
)

// Suite is an ordered set of parameters: one current and any number of
// legacy sets in descending recency.
type Suite struct {
	current Parameters
	legacy  []Parameters
}

// NewSuite validates and builds a suite. Names must be unique.
func NewSuite(current Parameters, legacy ...Parameters) (Suite, error) {
	seen := make(map[string]bool, len(legacy)+1)
	for _, p := range append([]Parameters{current}, legacy...) {
		if err := p.Validate(); err != nil {
			return Suite{}, err
		}
		if seen[p.Name] {
			return Suite{}, fmt.Errorf("%w: duplicate name %q", ErrInvalidParameters, p.Name)
		}
		seen[p.Name] = true
	}
	return Suite{current: current, legacy: append([]Parameters(nil), legacy...)}, nil
}

// DefaultSuite returns v3 as current with v2 and v1 as legacy sets.
func DefaultSuite() Suite {
	return Suite{current: ParamsV3, legacy: []Parameters{ParamsV2, ParamsV1}}
}

// Current returns the set used for new encryptions.
func (s Suite) Current() Parameters {
	return s.current
}

// Legacy returns the retired sets, newest first.
func (s Suite) Legacy() []Parameters {
	return append([]Parameters(nil), s.legacy...)
}

// Ordered returns the decrypt precedence: current, then legacy newest first.
func (s Suite) Ordered() []Parameters {
	return append([]Parameters{s.current}, s.legacy...)
}

// Lookup finds a set by name.
func (s Suite) Lookup(name string) (Parameters, bool) {
	for _, p := range s.Ordered() {
		if p.Name == name {
			return p, true
		}
	}
	return Parameters{}, false
}
