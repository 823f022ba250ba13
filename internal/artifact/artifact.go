// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package artifact defines backup artifact naming, stages and directory layout.
//
// An artifact is named after its creation instant in UTC:
//
//	20260314030000.zip.enc                       local file
//	backups/2026/03/14/20260314030000.zip.enc    remote key
//
// The timestamp layout is fixed-width, so lexicographic order of names equals
// chronological order. Files still being written carry a ".part" suffix and
// are never reported by Scan.
package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// TimestampLayout is the sortable creation-time encoding used in names.
	TimestampLayout = "20060102150405"

	// Extension is the suffix of every encrypted artifact.
	Extension = ".zip.enc"

	// ExportExtension is the suffix of the plaintext export.
	ExportExtension = ".zip"

	// PartSuffix marks a file that is still being written.
	PartSuffix = ".part"
)

// ErrInvalidKey is returned for remote keys that do not follow the
// {prefix}/YYYY/MM/DD/{timestamp}.zip.enc layout.
var ErrInvalidKey = errors.New("invalid artifact key")

// FileName returns the encrypted artifact name for t.
func FileName(t time.Time) string {
	return t.UTC().Format(TimestampLayout) + Extension
}

// ExportName returns the plaintext export name for t.
func ExportName(t time.Time) string {
	return t.UTC().Format(TimestampLayout) + ExportExtension
}

// PartName returns the in-flight name for a final file name.
func PartName(name string) string {
	return name + PartSuffix
}

// ParseFileName extracts the creation time from an artifact file name.
// Only complete, encrypted artifacts parse.
func ParseFileName(name string) (time.Time, bool) {
	stamp, ok := strings.CutSuffix(name, Extension)
	if !ok || len(stamp) != len(TimestampLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RemoteKey returns the object key for an artifact created at t.
func RemoteKey(prefix string, t time.Time) string {
	t = t.UTC()
	datePath := fmt.Sprintf("%04d/%02d/%02d", t.Year(), int(t.Month()), t.Day())
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return datePath + "/" + FileName(t)
	}
	return prefix + "/" + datePath + "/" + FileName(t)
}

// ParseRemoteKeyDate validates key against the remote layout and returns the
// artifact's creation time. Every component is checked explicitly: the
// prefix, fixed-width numeric year, month and day directories forming a real
// calendar date, and a file name whose timestamp falls on that date. Any
// deviation is ErrInvalidKey.
func ParseRemoteKeyDate(prefix, key string) (time.Time, error) {
	prefix = strings.Trim(prefix, "/")
	rest := key
	if prefix != "" {
		var ok bool
		rest, ok = strings.CutPrefix(key, prefix+"/")
		if !ok {
			return time.Time{}, fmt.Errorf("%w: %q outside prefix %q", ErrInvalidKey, key, prefix)
		}
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY/MM/DD/name", ErrInvalidKey, key)
	}

	year, okY := fixedDigits(parts[0], 4)
	month, okM := fixedDigits(parts[1], 2)
	day, okD := fixedDigits(parts[2], 2)
	if !okY || !okM || !okD {
		return time.Time{}, fmt.Errorf("%w: %q has a malformed date path", ErrInvalidKey, key)
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || int(date.Month()) != month || date.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q names a nonexistent date", ErrInvalidKey, key)
	}

	created, ok := ParseFileName(parts[3])
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q has a malformed file name", ErrInvalidKey, key)
	}
	if created.Year() != year || int(created.Month()) != month || created.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q file name disagrees with its date path", ErrInvalidKey, key)
	}

	return created, nil
}

// fixedDigits parses s as an unsigned decimal of exactly width ASCII digits.
func fixedDigits(s string, width int) (int, bool) {
	if len(s) != width {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// BaseName returns the last element of a remote key.
func BaseName(key string) string {
	return path.Base(key)
}
