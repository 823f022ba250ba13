// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package logging

import "strings"

// RedactSecret masks a secret for display. Only whether the value is set and
// its rough length survive, never any of its characters.
func RedactSecret(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) < 12:
		return "****"
	default:
		return "************"
	}
}

// RedactEnv masks the value part of KEY=VALUE pairs whose key looks like a
// credential. Used when external command environments end up in error messages.
func RedactEnv(env []string) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if ok && isSecretKey(key) {
			out[i] = key + "=" + RedactSecret(value)
			continue
		}
		out[i] = kv
	}
	return out
}

func isSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"PASSWORD", "SECRET", "TOKEN", "PASS"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
