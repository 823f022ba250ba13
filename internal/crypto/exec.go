// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package crypto

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/snapvault/internal/command"
)

// passphraseEnv carries the passphrase to openssl. It never appears in argv.
const passphraseEnv = "SNAPVAULT_PASSPHRASE"

// ExecCipher implements Cipher by running `openssl enc`.
type ExecCipher struct {
	// Path to the openssl binary; "openssl" when empty.
	Path   string
	Runner command.Runner
}

// NewExecCipher returns an ExecCipher using the host runner.
func NewExecCipher(path string) ExecCipher {
	return ExecCipher{Path: path, Runner: command.ExecRunner{}}
}

// Encrypt implements Cipher.
func (c ExecCipher) Encrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error {
	return c.run(ctx, inPath, outPath, passphrase, p, false)
}

// Decrypt implements Cipher.
func (c ExecCipher) Decrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error {
	return c.run(ctx, inPath, outPath, passphrase, p, true)
}

func (c ExecCipher) run(ctx context.Context, inPath, outPath, passphrase string, p Parameters, decrypt bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	path := c.Path
	if path == "" {
		path = "openssl"
	}
	runner := c.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	args := append(p.opensslArgs(decrypt),
		"-in", inPath,
		"-out", outPath,
		"-pass", "env:"+passphraseEnv,
	)
	_, err := runner.Run(ctx, command.Cmd{
		Path: path,
		Args: args,
		Env:  []string{passphraseEnv + "=" + passphrase},
	})
	if err == nil {
		return nil
	}

	var exitErr *command.ExitError
	if errors.As(err, &exitErr) && decrypt && isMalformedOutput(exitErr.Stderr) {
		return fmt.Errorf("%w: %s", ErrMalformedCiphertext, exitErr.Stderr)
	}
	return err
}

// isMalformedOutput recognizes openssl diagnostics that do not depend on the
// passphrase.
func isMalformedOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{
		"wrong final block length",
		"error reading input file",
		"bad magic number",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
