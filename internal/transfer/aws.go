// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/snapvault/internal/command"
)

// listingMaxBytes caps captured CLI output, sized for large bucket listings.
const listingMaxBytes = 16 << 20

// AWSCLIStore is an S3 bucket driven through the aws CLI. Credentials go to
// the child process environment only.
type AWSCLIStore struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint for compatible stores.
	Endpoint string

	// CLIPath is the aws binary; "aws" when empty.
	CLIPath string
	// Timeout bounds each CLI invocation; zero leaves it to ctx.
	Timeout time.Duration
	Runner  command.Runner
}

// Location implements Store.
func (s *AWSCLIStore) Location() string {
	return "s3://" + s.Bucket
}

// Upload implements Store.
func (s *AWSCLIStore) Upload(ctx context.Context, localPath, key string) error {
	_, err := s.run(ctx, "s3", "cp", localPath, s.uri(key), "--only-show-errors", "--no-progress")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpload, key, err)
	}
	return nil
}

// Exists implements Store using head-object. A 404 is a definite false.
func (s *AWSCLIStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.run(ctx, "s3api", "head-object", "--bucket", s.Bucket, "--key", key)
	if err == nil {
		return true, nil
	}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) && isNotFound(exitErr.Stderr) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s: %w", ErrExists, key, err)
}

// List implements Store.
func (s *AWSCLIStore) List(ctx context.Context, prefix string) ([]Object, error) {
	target := s.uri(strings.Trim(prefix, "/") + "/")
	out, err := s.run(ctx, "s3", "ls", target, "--recursive")
	if err != nil {
		// aws s3 ls exits 1 without output when nothing matches the prefix.
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode == 1 && exitErr.Stderr == "" && len(out.Stdout) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrList, target, err)
	}
	// Keys are listed in order, so a cut listing drops the newest artifacts.
	if out.StdoutTruncated {
		return nil, fmt.Errorf("%w: %s: listing exceeds %d bytes", ErrList, target, listingMaxBytes)
	}
	return parseListing(string(out.Stdout))
}

// Delete implements Store.
func (s *AWSCLIStore) Delete(ctx context.Context, key string) error {
	if _, err := s.run(ctx, "s3", "rm", s.uri(key), "--only-show-errors"); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDelete, key, err)
	}
	return nil
}

// Download implements Store.
func (s *AWSCLIStore) Download(ctx context.Context, key, localPath string) error {
	_, err := s.run(ctx, "s3", "cp", s.uri(key), localPath, "--only-show-errors", "--no-progress")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, key, err)
	}
	return nil
}

func (s *AWSCLIStore) uri(key string) string {
	return "s3://" + s.Bucket + "/" + strings.TrimPrefix(key, "/")
}

func (s *AWSCLIStore) run(ctx context.Context, args ...string) (command.Output, error) {
	if s.Region != "" {
		args = append(args, "--region", s.Region)
	}
	if s.Endpoint != "" {
		args = append(args, "--endpoint-url", s.Endpoint)
	}

	path := s.CLIPath
	if path == "" {
		path = "aws"
	}
	runner := s.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	env := []string{"AWS_PAGER="}
	if s.AccessKeyID != "" {
		env = append(env, "AWS_ACCESS_KEY_ID="+s.AccessKeyID, "AWS_SECRET_ACCESS_KEY="+s.SecretAccessKey)
	}
	if s.Region != "" {
		env = append(env, "AWS_DEFAULT_REGION="+s.Region)
	}

	return runner.Run(ctx, command.Cmd{
		Path:      path,
		Args:      args,
		Env:       env,
		Timeout:   s.Timeout,
		MaxOutput: listingMaxBytes,
	})
}

func isNotFound(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "(404)") || strings.Contains(lower, "not found")
}

// parseListing parses `aws s3 ls --recursive` output:
//
//	2026-01-02 03:04:05       1234 backups/2026/01/02/20260102030000.zip.enc
func parseListing(out string) ([]Object, error) {
	var objects []Object
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: unexpected listing line %q", ErrList, line)
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad size in listing line %q", ErrList, line)
		}
		modified, _ := time.ParseInLocation("2006-01-02 15:04:05", fields[0]+" "+fields[1], time.UTC)

		// Keys may contain spaces: take everything after the size column.
		key := line
		for i := 0; i < 3; i++ {
			key = strings.TrimLeft(key, " \t")
			key = key[strings.IndexAny(key, " \t"):]
		}
		objects = append(objects, Object{
			Key:          strings.TrimSpace(key),
			Size:         size,
			LastModified: modified,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrList, err)
	}
	return objects, nil
}
