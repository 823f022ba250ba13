// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/restore"
)

// restoreFlags are shared by the verify and extract subcommands.
type restoreFlags struct {
	remote     bool
	asJSON     bool
	scratchDir string
}

func (f *restoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.remote, "remote", false, "Fetch the artifact from remote storage")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the manifest as JSON")
	cmd.Flags().StringVar(&f.scratchDir, "scratch-dir", "", "Parent directory for decrypted scratch files (default: system temp)")
}

func newRestoreCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "List, verify and extract backup artifacts",
	}
	cmd.AddCommand(
		newRestoreListCmd(g),
		newRestoreVerifyCmd(g),
		newRestoreExtractCmd(g),
	)
	return cmd
}

func newRestoreListCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local and remote artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadRestoreConfig(false)
			if err != nil {
				return err
			}

			local, err := artifact.Scan(cfg.Backup.Dir)
			if err != nil {
				return err
			}
			listing := artifactListing{Local: local}
			if store := buildStore(cfg); store != nil {
				r := &restore.Remote{Store: store, Prefix: cfg.RemotePrefix()}
				remote, err := r.List(cmd.Context())
				if err != nil {
					return err
				}
				listing.Remote = remote
				listing.RemoteLocation = store.Location()
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), listing)
			}
			return listing.writeText(cmd.OutOrStdout(), cfg.Backup.Dir)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	return cmd
}

type artifactListing struct {
	Local          []artifact.Info          `json:"local"`
	Remote         []restore.RemoteArtifact `json:"remote,omitempty"`
	RemoteLocation string                   `json:"remote_location,omitempty"`
}

func (l artifactListing) writeText(w io.Writer, dir string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "LOCATION\tNAME\tCREATED\tSIZE\n")
	for _, a := range l.Local {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", dir, a.Name, a.Timestamp.Format(time.RFC3339), a.Size)
	}
	for _, a := range l.Remote {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", l.RemoteLocation, a.Key, a.Timestamp.Format(time.RFC3339), a.Size)
	}
	if len(l.Local) == 0 && len(l.Remote) == 0 {
		fmt.Fprintf(tw, "-\t(no artifacts)\t-\t-\n")
	}
	return tw.Flush()
}

func newRestoreVerifyCmd(g *globals) *cobra.Command {
	var flags restoreFlags

	cmd := &cobra.Command{
		Use:     "verify [name]",
		Aliases: []string{"test"},
		Short:   "Test-decrypt an artifact and check its archive",
		Long: `Decrypt an artifact into a scratch directory, check the archive structure
and discard the plaintext. Without a name the newest artifact is verified.
A name containing a path separator is used as a file path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.restore(cmd, &flags, args, "", restore.TestOnly)
		},
	}

	flags.register(cmd)
	return cmd
}

func newRestoreExtractCmd(g *globals) *cobra.Command {
	var (
		flags  restoreFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "extract [name] --output DIR",
		Short: "Decrypt an artifact and unpack it into a directory",
		Long: `Decrypt and check an artifact, then unpack its files into the output
directory. Existing files are never overwritten and symbolic links are
skipped. Without a name the newest artifact is extracted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.restore(cmd, &flags, args, output, restore.Extract)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory to extract into (required)")
	_ = cmd.MarkFlagRequired("output") //nolint:errcheck // flag is registered above
	return cmd
}

func (g *globals) restore(cmd *cobra.Command, flags *restoreFlags, args []string, outputDir string, mode restore.Mode) error {
	cfg, err := g.loadRestoreConfig(true)
	if err != nil {
		return err
	}
	var name string
	if len(args) > 0 {
		name = args[0]
	}

	ctx := cmd.Context()
	path, cleanup, err := locateArtifact(ctx, cfg, name, flags)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := buildEngine(cfg, flags.scratchDir)
	m, err := engine.Restore(ctx, path, cfg.Backup.Password, outputDir, mode)
	if err != nil {
		return err
	}
	if flags.asJSON {
		return writeJSON(cmd.OutOrStdout(), m)
	}
	return writeManifest(cmd.OutOrStdout(), m)
}

// locateArtifact resolves name to a local file, downloading it first when
// --remote is set. cleanup is never nil on success.
func locateArtifact(ctx context.Context, cfg *config.Config, name string, flags *restoreFlags) (string, func(), error) {
	if flags.remote {
		store := buildStore(cfg)
		if store == nil {
			return "", nil, fmt.Errorf("%w: --remote requires S3_BUCKET or REMOTE_DIR", config.ErrConfig)
		}
		r := &restore.Remote{Store: store, Prefix: cfg.RemotePrefix(), ScratchDir: flags.scratchDir}
		a, err := r.Select(ctx, name)
		if err != nil {
			return "", nil, err
		}
		return r.Fetch(ctx, a)
	}

	if strings.ContainsRune(name, os.PathSeparator) {
		return name, func() {}, nil
	}
	info, err := restore.Select(cfg.Backup.Dir, name)
	if err != nil {
		return "", nil, err
	}
	return info.Path, func() {}, nil
}

func writeManifest(w io.Writer, m *restore.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Artifact:\t%s\n", m.Artifact)
	fmt.Fprintf(tw, "Mode:\t%s\n", m.Mode)
	fmt.Fprintf(tw, "Parameters:\t%s (attempt %d)\n", m.Parameters, m.Attempts)
	fmt.Fprintf(tw, "Files:\t%d (%d bytes)\n", m.FileCount, m.TotalBytes)
	if m.OutputDir != "" {
		fmt.Fprintf(tw, "Extracted:\t%d into %s\n", m.Extracted, m.OutputDir)
	}
	for _, s := range m.Skipped {
		fmt.Fprintf(tw, "Skipped:\t%s\n", s)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", roundDuration(m.Duration))
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, e := range m.Entries {
		if _, err := fmt.Fprintf(w, "  %10d  %s  %s\n", e.Size, e.Modified.UTC().Format(time.RFC3339), e.Name); err != nil {
			return err
		}
	}
	if m.Truncated() {
		if _, err := fmt.Fprintf(w, "  ... %d more\n", m.FileCount-len(m.Entries)); err != nil {
			return err
		}
	}
	return nil
}
