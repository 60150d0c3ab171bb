package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks a missing or invalid parameter detected before a
	// stage executes.
	ErrConfiguration = errors.New("configuration error")
	// ErrData marks missing or dimensionally inconsistent input artifacts.
	ErrData = errors.New("data error")
	// ErrComputation marks a failure raised by an external numerical routine.
	ErrComputation = errors.New("computation error")
	// ErrStorage marks an artifact store read or write failure.
	ErrStorage = errors.New("storage error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrComputation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify returns the taxonomy label for a stage error, used in cohort
// reports and the run ledger. Unrecognized errors classify as computation
// failures since stage execution is the only place they can originate.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "computation"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
