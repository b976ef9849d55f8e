package access

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the store when the matrix document was
	// never seeded
	ErrNotFound = errors.New("access: config not found")

	// ErrConfigMissing is returned by the cache's read path when the store
	// has no matrix. The bootstrap path seeds a default; the hot-read path
	// never fabricates one.
	ErrConfigMissing = errors.New("access: config missing, seed required")

	// ErrStorageUnavailable wraps persistence-layer failures. Callers
	// surface it; there is no automatic retry.
	ErrStorageUnavailable = errors.New("access: storage unavailable")

	// ErrRuleNotFound is returned when no flow rule matches a lookup
	ErrRuleNotFound = errors.New("access: flow rule not found")
)

// ValidationError describes a malformed matrix or flow-rule mutation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("access: validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("access: validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateMatrix checks a matrix mutation payload: every entry must carry a
// moduleId, moduleIds must be unique, and role keys must come from the fixed
// enumeration. Missing role keys are tolerated here (the evaluator treats
// them as denied) but unknown role keys are rejected.
func ValidateMatrix(cfg *MatrixConfig) error {
	if cfg == nil {
		return &ValidationError{Reason: "matrix is empty"}
	}
	seen := make(map[string]bool, len(cfg.Entries))
	for i, entry := range cfg.Entries {
		if entry.ModuleID == "" {
			return &ValidationError{
				Field:  fmt.Sprintf("entries[%d].module_id", i),
				Reason: "module_id is required",
			}
		}
		if seen[entry.ModuleID] {
			return &ValidationError{
				Field:  fmt.Sprintf("entries[%d].module_id", i),
				Reason: fmt.Sprintf("duplicate module %q", entry.ModuleID),
			}
		}
		seen[entry.ModuleID] = true

		for role := range entry.Roles {
			if !ValidRole(role) {
				return &ValidationError{
					Field:  fmt.Sprintf("entries[%d].roles", i),
					Reason: fmt.Sprintf("unrecognized role %q", role),
				}
			}
		}
	}
	return nil
}
