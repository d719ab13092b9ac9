package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataNotFound indicates the training corpus source is absent.
	ErrDataNotFound = errors.New("training data not found")

	// ErrNotTrained indicates an operation ran before its prerequisite
	// training or indexing step.
	ErrNotTrained = errors.New("pipeline not trained")

	// ErrNotFitted indicates a transform on a component that was never fitted.
	ErrNotFitted = errors.New("component not fitted")

	// ErrExternalService indicates the explanation collaborator failed.
	ErrExternalService = errors.New("external service failure")
)

// StateError reports that an operation needs a later pipeline state.
type StateError struct {
	Op   string
	Have string
	Need string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: pipeline is %s, need %s", e.Op, e.Have, e.Need)
}

// Unwrap lets errors.Is match ErrNotTrained.
func (e *StateError) Unwrap() error { return ErrNotTrained }

// MissingFeatureError lists the required fields absent from an input record.
type MissingFeatureError struct {
	Fields []string
}

func (e *MissingFeatureError) Error() string {
	return "input is missing required features: " + strings.Join(e.Fields, ", ")
}

// InvalidFeatureError reports a field whose value cannot be coerced.
type InvalidFeatureError struct {
	Field string
	Value any
	Err   error
}

func (e *InvalidFeatureError) Error() string {
	return fmt.Sprintf("invalid value for %s (%v): %v", e.Field, e.Value, e.Err)
}

func (e *InvalidFeatureError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failed call to a third-party service.
type ExternalServiceError struct {
	Service string
	Model   string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): %v", e.Service, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Is matches ErrExternalService.
func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

func (e *ExternalServiceError) Unwrap() error { return e.Err }
