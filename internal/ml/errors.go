package ml

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaMismatch is returned when input records lack required features.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInferenceFailure is returned when every model invocation path failed.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrValidation is returned for structurally invalid prediction requests.
	ErrValidation = errors.New("validation error")
)

// SchemaMismatchError lists the required features missing from the input records.
type SchemaMismatchError struct {
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("missing fields in payload: [%s]", strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// InferenceFailureError carries the last error seen after all invocation paths failed.
type InferenceFailureError struct {
	Err error
}

func (e *InferenceFailureError) Error() string {
	if e.Err == nil {
		return ErrInferenceFailure.Error()
	}
	return fmt.Sprintf("%s: %v", ErrInferenceFailure, e.Err)
}

func (e *InferenceFailureError) Is(target error) bool { return target == ErrInferenceFailure }

func (e *InferenceFailureError) Unwrap() error { return e.Err }

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Pipeline stages reported in PredictionError.
const (
	StageValidation  = "validation"
	StageWindow      = "window"
	StageInference   = "inference"
	StageUncertainty = "uncertainty"
)

// PredictionError is the single caller-facing failure returned by Predictor.Predict.
type PredictionError struct {
	Stage string
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed at %s stage: %v", e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }
