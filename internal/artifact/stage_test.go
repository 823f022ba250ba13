// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package artifact

import (
	"errors"
	"testing"
	"time"
)

func TestArtifact_Advance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  []Stage
		valid bool
	}{
		{"uploaded path", []Stage{StageExported, StageEncrypted, StageUploaded, StageDeleted}, true},
		{"local only path", []Stage{StageExported, StageEncrypted, StageLocalOnly}, true},
		{"rollback after export", []Stage{StageExported, StageDeleted}, true},
		{"skip export", []Stage{StageEncrypted}, false},
		{"regress", []Stage{StageExported, StageEncrypted, StageExported}, false},
		{"uploaded to local only", []Stage{StageExported, StageEncrypted, StageUploaded, StageLocalOnly}, false},
		{"resurrect", []Stage{StageExported, StageDeleted, StageEncrypted}, false},
		{"repeat", []Stage{StageExported, StageExported}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := New(time.Now())
			var err error
			for _, s := range tt.path {
				if err = a.Advance(s); err != nil {
					break
				}
			}
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrStageRegression) {
				t.Fatalf("expected ErrStageRegression, got %v", err)
			}
		})
	}
}

func TestArtifact_AdvanceKeepsStageOnError(t *testing.T) {
	t.Parallel()

	a := New(time.Now())
	_ = a.Advance(StageExported)
	_ = a.Advance(StageEncrypted)
	if err := a.Advance(StageExported); err == nil {
		t.Fatal("expected error")
	}
	if a.Stage != StageEncrypted {
		t.Errorf("stage = %s, want encrypted", a.Stage)
	}
}

func TestStage_Visible(t *testing.T) {
	t.Parallel()

	visible := map[Stage]bool{
		StageExported:  false,
		StageEncrypted: true,
		StageUploaded:  true,
		StageLocalOnly: true,
		StageDeleted:   false,
	}
	for s, want := range visible {
		if s.Visible() != want {
			t.Errorf("%s.Visible() = %v, want %v", s, s.Visible(), want)
		}
	}
}

func TestLocation_Kind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		loc  Location
		want LocationKind
	}{
		{Location{}, LocationNone},
		{Location{LocalPath: "/b/x.zip.enc"}, LocationLocal},
		{Location{Bucket: "b", Key: "k"}, LocationRemote},
		{Location{LocalPath: "/b/x.zip.enc", Bucket: "b", Key: "k"}, LocationBoth},
	}
	for _, tt := range tests {
		if got := tt.loc.Kind(); got != tt.want {
			t.Errorf("%+v.Kind() = %s, want %s", tt.loc, got, tt.want)
		}
	}
}

func TestNew_TruncatesToSeconds(t *testing.T) {
	t.Parallel()

	a := New(time.Date(2026, 1, 1, 0, 0, 0, 999, time.UTC))
	if a.Timestamp.Nanosecond() != 0 {
		t.Errorf("timestamp not truncated: %v", a.Timestamp)
	}
	if a.Name() != "20260101000000.zip.enc" {
		t.Errorf("Name() = %q", a.Name())
	}
}
