package errors

import (
	"regexp"
	"strings"
	"unicode"
)

const maxNameLength = 256

// validateName applies the checks shared by every schematic identifier.
func validateName(kind, name string) error {
	if name == "" {
		return New(ErrCodeInvalidName, "%s name cannot be empty", kind)
	}

	if len(name) > maxNameLength {
		return New(ErrCodeInvalidName, "%s name too long (max %d characters)", kind, maxNameLength)
	}

	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidName, "%s name %q contains whitespace or control characters", kind, name)
		}
	}

	return nil
}

// ValidateInstanceName validates an instance name. Instance names become path
// components of qualified pin names ("/MN1/D"), so they may not contain '/'.
func ValidateInstanceName(name string) error {
	if err := validateName("instance", name); err != nil {
		return err
	}
	if strings.Contains(name, "/") {
		return New(ErrCodeInvalidName, "instance name %q cannot contain '/'", name)
	}
	return nil
}

// netNameRegex matches net names, including global nets ("vdd!") and bus
// bits ("data<3>").
var netNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:]*(<[0-9:]+>)?!?$`)

// ValidateNetName validates a net or pin name used in labels and stimuli.
func ValidateNetName(name string) error {
	if err := validateName("net", name); err != nil {
		return err
	}
	if !netNameRegex.MatchString(name) {
		return New(ErrCodeInvalidName, "invalid net name: %q", name)
	}
	return nil
}

// cellNameRegex matches library and cell names accepted by the backend.
var cellNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateCellName validates a library or cell name.
func ValidateCellName(name string) error {
	if err := validateName("cell", name); err != nil {
		return err
	}
	if !cellNameRegex.MatchString(name) {
		return New(ErrCodeInvalidName, "invalid library/cell name: %q", name)
	}
	return nil
}

// ValidatePath validates a relative output path (stimulus files, documents).
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No path traversal sequences (..)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidInput, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidInput, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "path contains invalid characters")
		}
	}

	if strings.Contains(path, "..") {
		return New(ErrCodeInvalidInput, "path cannot contain path traversal sequences (..)")
	}

	return nil
}
