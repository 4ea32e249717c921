package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The badger store needs a database path once defaults have run; an
	// explicit empty value is a configuration error.
	if cfg.Store.Type == "badger" {
		if p, ok := cfg.Store.Badger["db_path"]; ok {
			if s, isStr := p.(string); isStr && s == "" {
				return fmt.Errorf("store.badger: db_path must not be empty")
			}
		}
	}

	// The S3 store needs its bucket and region up front so the daemon fails
	// fast instead of on the first share operation.
	if cfg.Store.Type == "s3" {
		if s, _ := cfg.Store.S3["bucket"].(string); s == "" {
			return fmt.Errorf("store.s3: bucket is required")
		}
		if s, _ := cfg.Store.S3["region"].(string); s == "" {
			return fmt.Errorf("store.s3: region is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
