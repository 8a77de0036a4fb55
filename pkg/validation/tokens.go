// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for names that flow
// from configuration files, HTTP requests and command-line arguments into the
// token library.
package validation

import (
	"fmt"
	"regexp"
)

// tokenNamePattern matches valid token names.
// Allows: letters, digits, underscore; must start with a letter or underscore.
// Max length: 32 characters.
var tokenNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,31}$`)

// ValidateTokenName validates a token name.
//
// Valid names:
//   - 1-32 characters
//   - Letters, digits and underscores
//   - Not starting with a digit
//
// Example:
//
//	if err := validation.ValidateTokenName(name); err != nil {
//	    return nil, fmt.Errorf("invalid token: %w", err)
//	}
func ValidateTokenName(name string) error {
	if name == "" {
		return fmt.Errorf("token name cannot be empty")
	}

	if !tokenNamePattern.MatchString(name) {
		return fmt.Errorf("invalid token name: %q (must be 1-32 letters, digits or underscores, not starting with a digit)", name)
	}

	return nil
}

// ValidateTokenNames validates multiple token names.
// Returns an error listing all invalid names if any fail validation.
func ValidateTokenNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateTokenName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid token names: %q", invalid)
	}
	return nil
}
