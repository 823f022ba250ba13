// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package crypto

import (
	"bufio"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltMagic = "Salted__"
	saltLen   = 8

	// chunkSize is the streaming unit; a multiple of the AES block size.
	chunkSize = 64 << 10
)

var (
	// ErrMalformedCiphertext means the input cannot be ciphertext for the
	// given parameters regardless of passphrase (missing header, length not
	// a multiple of the block size).
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// errBadPadding is the usual symptom of a wrong key.
	errBadPadding = errors.New("bad padding")
)

// Cipher is the symmetric primitive: it encrypts or decrypts inPath into
// outPath with the given parameters. Implementations must not leave outPath
// behind on failure only if they created it; callers clean up regardless.
type Cipher interface {
	Encrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error
	Decrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error
}

// NativeCipher implements Cipher in-process, byte-compatible with
// `openssl enc`. Files written by one can be read by the other.
type NativeCipher struct {
	// Rand supplies salts; crypto/rand when nil.
	Rand io.Reader
}

// Encrypt implements Cipher.
func (c NativeCipher) Encrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}

	in, err := os.Open(inPath) //nolint:gosec // path built by the caller
	if err != nil {
		return fmt.Errorf("failed to open plaintext: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path built by the caller
	if err != nil {
		return fmt.Errorf("failed to create ciphertext: %w", err)
	}
	w := bufio.NewWriterSize(out, chunkSize)

	err = c.encryptStream(ctx, contextReader{ctx: ctx, r: in}, w, passphrase, p)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func (c NativeCipher) encryptStream(_ context.Context, r io.Reader, w io.Writer, passphrase string, p Parameters) error {
	var salt []byte
	if p.Salted {
		salt = make([]byte, saltLen)
		source := c.Rand
		if source == nil {
			source = rand.Reader
		}
		if _, err := io.ReadFull(source, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		if _, err := w.Write(append([]byte(saltMagic), salt...)); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	mode, err := newMode(passphrase, salt, p, true)
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize+aes.BlockSize)
	for {
		n, readErr := io.ReadFull(r, buf[:chunkSize])
		switch {
		case readErr == nil:
			mode.CryptBlocks(buf[:n], buf[:n])
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write ciphertext: %w", err)
			}
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			final := pkcs7Pad(buf[:n], aes.BlockSize)
			mode.CryptBlocks(final, final)
			if _, err := w.Write(final); err != nil {
				return fmt.Errorf("failed to write ciphertext: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to read plaintext: %w", readErr)
		}
	}
}

// Decrypt implements Cipher.
func (c NativeCipher) Decrypt(ctx context.Context, inPath, outPath, passphrase string, p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}

	in, err := os.Open(inPath) //nolint:gosec // path built by the caller
	if err != nil {
		return fmt.Errorf("failed to open ciphertext: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path built by the caller
	if err != nil {
		return fmt.Errorf("failed to create plaintext: %w", err)
	}
	w := bufio.NewWriterSize(out, chunkSize)

	err = decryptStream(contextReader{ctx: ctx, r: in}, w, passphrase, p)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func decryptStream(r io.Reader, w io.Writer, passphrase string, p Parameters) error {
	br := bufio.NewReaderSize(r, chunkSize)

	var salt []byte
	if p.Salted {
		header := make([]byte, len(saltMagic)+saltLen)
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: short header", ErrMalformedCiphertext)
			}
			return fmt.Errorf("failed to read header: %w", err)
		}
		if !bytes.Equal(header[:len(saltMagic)], []byte(saltMagic)) {
			return fmt.Errorf("%w: missing salt header", ErrMalformedCiphertext)
		}
		salt = header[len(saltMagic):]
	}

	mode, err := newMode(passphrase, salt, p, false)
	if err != nil {
		return err
	}

	chunk := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := io.ReadFull(br, chunk)
		last := false
		switch {
		case readErr == nil:
			if _, peekErr := br.Peek(1); errors.Is(peekErr, io.EOF) {
				last = true
			} else if peekErr != nil {
				return fmt.Errorf("failed to read ciphertext: %w", peekErr)
			}
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			last = true
		default:
			return fmt.Errorf("failed to read ciphertext: %w", readErr)
		}

		total += int64(n)
		if n%aes.BlockSize != 0 || (last && total == 0) {
			return fmt.Errorf("%w: length is not a positive multiple of %d", ErrMalformedCiphertext, aes.BlockSize)
		}
		mode.CryptBlocks(chunk[:n], chunk[:n])

		if !last {
			if _, err := w.Write(chunk[:n]); err != nil {
				return fmt.Errorf("failed to write plaintext: %w", err)
			}
			continue
		}

		plain, err := pkcs7Unpad(chunk[:n], aes.BlockSize)
		if err != nil {
			return err
		}
		if _, err := w.Write(plain); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		return nil
	}
}

// newMode derives key and IV and returns the CBC block mode.
func newMode(passphrase string, salt []byte, p Parameters, encrypt bool) (cipher.BlockMode, error) {
	key, iv, err := deriveKeyIV(passphrase, salt, p)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv), nil
	}
	return cipher.NewCBCDecrypter(block, iv), nil
}

// deriveKeyIV produces the same key and IV as `openssl enc -P`.
func deriveKeyIV(passphrase string, salt []byte, p Parameters) (key, iv []byte, err error) {
	keyLen, err := p.keyLength()
	if err != nil {
		return nil, nil, err
	}
	h, err := p.hashFunc()
	if err != nil {
		return nil, nil, err
	}

	var material []byte
	switch p.KDF {
	case KDFPBKDF2:
		material = pbkdf2.Key([]byte(passphrase), salt, p.Iterations, keyLen+aes.BlockSize, h)
	case KDFEVP:
		material = evpBytesToKey(h, []byte(passphrase), salt, keyLen+aes.BlockSize)
	default:
		return nil, nil, fmt.Errorf("%w: unknown kdf %q", ErrInvalidParameters, p.KDF)
	}
	return material[:keyLen], material[keyLen:], nil
}

// evpBytesToKey implements OpenSSL's EVP_BytesToKey with a single round:
// D_i = H(D_{i-1} || passphrase || salt), concatenated until n bytes.
func evpBytesToKey(newHash func() hash.Hash, passphrase, salt []byte, n int) []byte {
	out := make([]byte, 0, n+64)
	var prev []byte
	for len(out) < n {
		h := newHash()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:n]
}

// pkcs7Pad returns data followed by 1..blockSize padding bytes. data must
// have spare capacity for a block or it is copied.
func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-pad], nil
}

// contextReader fails reads once ctx is done, so long streams stop promptly.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
