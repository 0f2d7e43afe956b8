package config

import (
	"fmt"
	"strings"
)

// Validator provides configuration validation utilities
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStorageType validates storage type
func (v *Validator) ValidateStorageType(storageType string) error {
	validTypes := []string{"s3", "local"}

	for _, valid := range validTypes {
		if storageType == valid {
			return nil
		}
	}

	return fmt.Errorf("unsupported storage type: %s. Valid types: %v", storageType, validTypes)
}

// ValidateTagKey validates an EC2 tag key used for volume discovery. AWS tag
// keys may not start with "aws:" and are limited to 128 characters.
func (v *Validator) ValidateTagKey(key string) error {
	if key == "" {
		return fmt.Errorf("tag key cannot be empty")
	}
	if len(key) > 128 {
		return fmt.Errorf("tag key exceeds 128 characters")
	}
	if strings.HasPrefix(strings.ToLower(key), "aws:") {
		return fmt.Errorf("tag key may not use the reserved aws: prefix")
	}
	return nil
}

// ValidateLogFormat validates the log output format
func (v *Validator) ValidateLogFormat(format string) error {
	validFormats := []string{"json", "console"}

	for _, valid := range validFormats {
		if format == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid log format: %s. Valid formats: %v", format, validFormats)
}
