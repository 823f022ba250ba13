// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/snapvault/internal/schedule"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator with snapvault's custom tags.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// cronexpr: empty is accepted; required_if decides whether it may be empty
		_ = validate.RegisterValidation("cronexpr", func(fl validator.FieldLevel) bool {
			expr := fl.Field().String()
			return expr == "" || schedule.ValidateExpression(expr) == nil
		})
	})
	return validate
}

// Validate checks struct tags, the passphrase policy and cross-field rules.
// All failures wrap ErrConfig.
func (c *Config) Validate() error {
	problems, err := fieldProblems(getValidator().Struct(c))
	if err != nil {
		return err
	}

	if c.Backup.Password != "" {
		result := DefaultPassphrasePolicy().Validate(c.Backup.Password)
		for _, msg := range result.Errors {
			problems = append(problems, "BACKUP_PASSWORD: "+msg)
		}
	}

	if c.Disk.WarnFreePercent < c.Disk.MinFreePercent {
		problems = append(problems, "DISK_WARN_FREE_PERCENT must be greater than or equal to DISK_MIN_FREE_PERCENT")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// restoreFields are the settings needed to read and decrypt artifacts.
var restoreFields = []string{
	"Backup.Dir",
	"Cipher.Backend",
	"Cipher.OpenSSLPath",
	"Logging.Level",
	"Logging.Format",
}

// remoteFields are validated for restore only when a remote is configured.
var remoteFields = []string{
	"Remote.Backend",
	"Remote.Timeout",
	"Remote.S3.Region",
	"Remote.S3.AccessKeyID",
	"Remote.S3.SecretAccessKey",
	"Remote.S3.Endpoint",
	"Remote.S3.CLIPath",
}

// ValidateRestore checks only what restore needs, so a recovery host can
// read artifacts without the export or schedule settings. The passphrase is
// required when needPassphrase is set but the passphrase policy is not
// applied: artifacts sealed under an older passphrase stay readable.
func (c *Config) ValidateRestore(needPassphrase bool) error {
	fields := append([]string(nil), restoreFields...)
	if needPassphrase {
		fields = append(fields, "Backup.Password")
	}
	if c.RemoteEnabled() {
		fields = append(fields, remoteFields...)
	}

	problems, err := fieldProblems(getValidator().StructPartial(c, fields...))
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// fieldProblems translates validator field errors into operator messages.
func fieldProblems(err error) ([]string, error) {
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, translateError(fe))
	}
	return problems, nil
}

// errorMessageTemplates maps validation tags to message templates.
var errorMessageTemplates = map[string]string{
	"required":      "%s is required",
	"required_with": "%s is required when S3_BUCKET is set",
	"required_if":   "%s is required when SCHEDULE_ENABLED=true",
	"url":           "%s must be a valid URL",
	"cronexpr":      "%s must be a valid 5-field cron expression",
}

// errorMessageWithParam maps validation tags to templates that include param.
var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
}

// translateError converts a validator.FieldError into a message that names
// the environment variable an operator would set.
func translateError(fe validator.FieldError) string {
	field := fieldEnvName(fe.Namespace())

	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// structFieldPaths maps validator namespaces to koanf paths.
var structFieldPaths = map[string]string{
	"Config.Backup.Password":           "backup.password",
	"Config.Backup.Dir":                "backup.dir",
	"Config.Backup.StateDir":           "backup.state_dir",
	"Config.Export.Command":            "export.command",
	"Config.Export.Timeout":            "export.timeout",
	"Config.Retention.MaxAgeDays":      "retention.max_age_days",
	"Config.Retention.MinKeep":         "retention.min_keep",
	"Config.Remote.Backend":            "remote.backend",
	"Config.Remote.Timeout":            "remote.timeout",
	"Config.Remote.DeleteRate":         "remote.delete_rate",
	"Config.Remote.S3.Region":          "remote.s3.region",
	"Config.Remote.S3.AccessKeyID":     "remote.s3.access_key_id",
	"Config.Remote.S3.SecretAccessKey": "remote.s3.secret_access_key",
	"Config.Remote.S3.Endpoint":        "remote.s3.endpoint",
	"Config.Remote.S3.CLIPath":         "remote.s3.cli_path",
	"Config.Cipher.Backend":            "cipher.backend",
	"Config.Cipher.OpenSSLPath":        "cipher.openssl_path",
	"Config.Schedule.Cron":             "schedule.cron",
	"Config.Schedule.Command":          "schedule.command",
	"Config.Disk.MinFreePercent":       "disk.min_free_percent",
	"Config.Disk.WarnFreePercent":      "disk.warn_free_percent",
	"Config.Logging.Level":             "logging.level",
	"Config.Logging.Format":            "logging.format",
}

// fieldEnvName resolves a validator namespace to its environment variable
// name, falling back to the namespace itself.
func fieldEnvName(namespace string) string {
	path, ok := structFieldPaths[namespace]
	if !ok {
		return namespace
	}
	if name, ok := EnvNames()[path]; ok {
		return name
	}
	return path
}
