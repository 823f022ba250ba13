// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package crypto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tomtom215/snapvault/internal/logging"
)

// EncryptedSuffix is appended to the plaintext path by Envelope.Encrypt.
const EncryptedSuffix = ".enc"

const partSuffix = ".part"

var (
	// ErrEncrypt wraps every encryption failure.
	ErrEncrypt = errors.New("encryption failed")

	// ErrDecrypt is returned when no parameter set could decrypt the input.
	// It does not say whether the passphrase or the parameters were wrong.
	ErrDecrypt = errors.New("decryption failed")

	// ErrCorrupt is returned when the input is damaged: an attempt decrypted
	// but the plaintext failed the structural check, or the ciphertext was
	// malformed under every parameter set.
	ErrCorrupt = errors.New("artifact is corrupt")
)

// CheckFunc validates decrypted plaintext at path. A nil CheckFunc accepts
// whatever the cipher produced.
type CheckFunc func(ctx context.Context, path string) error

// Result describes a successful decryption.
type Result struct {
	// Parameters is the set that decrypted the input.
	Parameters Parameters
	// Attempts is the number of sets tried, including the successful one.
	Attempts int
}

// Envelope encrypts with the current parameter set of its suite and decrypts
// by negotiating across all of them.
type Envelope struct {
	cipher Cipher
	suite  Suite
}

// NewEnvelope creates an envelope over the given primitive.
func NewEnvelope(c Cipher, suite Suite) *Envelope {
	return &Envelope{cipher: c, suite: suite}
}

// Suite returns the parameter sets this envelope negotiates over.
func (e *Envelope) Suite() Suite {
	return e.suite
}

// Encrypt encrypts plainPath to plainPath+".enc" under the current parameter
// set and returns the encrypted path. Output is staged in a ".part" file and
// renamed into place; on failure nothing is left at either path. The
// plaintext input is not removed.
func (e *Envelope) Encrypt(ctx context.Context, plainPath, passphrase string) (string, error) {
	encPath := plainPath + EncryptedSuffix
	if err := e.EncryptTo(ctx, plainPath, encPath, passphrase); err != nil {
		return "", err
	}
	return encPath, nil
}

// EncryptTo is Encrypt with an explicit destination.
func (e *Envelope) EncryptTo(ctx context.Context, plainPath, encPath, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty passphrase", ErrEncrypt)
	}
	params := e.suite.Current()
	part := encPath + partSuffix

	if err := e.cipher.Encrypt(ctx, plainPath, part, passphrase, params); err != nil {
		removeQuietly(part)
		return fmt.Errorf("%w: %s: %w", ErrEncrypt, params.Name, err)
	}
	if err := ctx.Err(); err != nil {
		removeQuietly(part)
		return fmt.Errorf("%w: %w", ErrEncrypt, err)
	}
	if err := os.Rename(part, encPath); err != nil {
		removeQuietly(part)
		return fmt.Errorf("%w: failed to finalize %s: %w", ErrEncrypt, encPath, err)
	}

	logging.Ctx(ctx).Debug().
		Str("params", params.Name).
		Str("path", encPath).
		Msg("Encrypted artifact")
	return nil
}

// Decrypt decrypts encPath into outPath, trying the current parameter set and
// then each legacy set newest first. An attempt counts only if the cipher
// succeeds and check accepts the plaintext. Intermediate output is written to
// outPath+".part" and removed on every failure, so outPath only ever holds
// verified plaintext.
func (e *Envelope) Decrypt(ctx context.Context, encPath, passphrase, outPath string, check CheckFunc) (Result, error) {
	if passphrase == "" {
		return Result{}, fmt.Errorf("%w: empty passphrase", ErrDecrypt)
	}
	if _, err := os.Stat(encPath); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	log := logging.Ctx(ctx)
	part := outPath + partSuffix
	defer removeQuietly(part)

	var (
		attempts   int
		malformed  int
		structural []string
	)
	for _, params := range e.suite.Ordered() {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrDecrypt, err)
		}
		attempts++

		err := e.cipher.Decrypt(ctx, encPath, part, passphrase, params)
		if err != nil {
			removeQuietly(part)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, fmt.Errorf("%w: %w", ErrDecrypt, ctxErr)
			}
			if errors.Is(err, ErrMalformedCiphertext) {
				malformed++
			}
			log.Debug().Str("params", params.Name).Msg("Decrypt attempt rejected by cipher")
			continue
		}

		if check != nil {
			if err := check(ctx, part); err != nil {
				removeQuietly(part)
				structural = append(structural, params.Name+": "+err.Error())
				log.Debug().Str("params", params.Name).Err(err).Msg("Decrypted output failed structural check")
				continue
			}
		}

		if err := os.Rename(part, outPath); err != nil {
			return Result{}, fmt.Errorf("%w: failed to finalize %s: %w", ErrDecrypt, outPath, err)
		}
		if params.Name != e.suite.Current().Name {
			log.Info().Str("params", params.Name).Msg("Artifact decrypted with legacy parameters")
		}
		return Result{Parameters: params, Attempts: attempts}, nil
	}

	switch {
	case len(structural) > 0:
		return Result{}, fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(structural, "; "))
	case attempts > 0 && malformed == attempts:
		return Result{}, fmt.Errorf("%w: ciphertext is malformed", ErrCorrupt)
	default:
		return Result{}, fmt.Errorf("%w: tried %d parameter sets", ErrDecrypt, attempts)
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn().Err(err).Str("path", path).Msg("Failed to remove temporary file")
	}
}
