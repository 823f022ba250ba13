// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package restore reconstructs and validates the plaintext of encrypted backup
artifacts.

Every operation decrypts into a private scratch directory through the crypto
envelope, which negotiates across the current and legacy parameter sets. An
attempt only counts when the plaintext passes the archive structural check:
the zip central directory must parse and every entry must read back fully
with a matching CRC. The scratch plaintext is removed before the call
returns, whatever the outcome.

Modes:

  - TestOnly: decrypt and check, then discard. Verify is TestOnly.
  - Extract: additionally unpack the checked archive into an output
    directory. Entry names that would escape the directory are rejected,
    existing files are never overwritten, and each entry is bounded by a
    per-file size limit.

Source artifacts are opened read-only and never modified or removed.

Error classification:

  - crypto.ErrDecrypt: no parameter set produced plaintext (wrong passphrase
    or unknown parameters).
  - ErrRestore: plaintext was produced but is damaged, or extraction failed.
    Structural failures also match crypto.ErrCorrupt. A wrong passphrase
    yields valid padding about once in 256 tries, and is then reported here
    rather than as a decrypt failure.
  - ErrNotFound / ErrNoArtifacts: selection found nothing to act on.

Artifacts can be selected from the local backup directory with Select, or
fetched from remote storage with Remote when the local copy was removed after
a verified upload.
*/
package restore
