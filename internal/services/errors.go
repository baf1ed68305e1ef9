package services

import (
	"errors"
	"fmt"
)

// ParseError means the content service returned text that is not usable JSON
// even after fence stripping and brace extraction.
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed model output: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// GenerationError means the output parsed but breaks the expected shape,
// such as a wrong question or option count.
type GenerationError struct {
	Op     string
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: invalid generated content: %s", e.Op, e.Reason)
}

// ServiceUnavailableError wraps transport failures of the model provider.
type ServiceUnavailableError struct {
	Op  string
	Err error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s: content service unavailable: %v", e.Op, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// IsContentError reports whether err belongs to the content taxonomy.
func IsContentError(err error) bool {
	var pe *ParseError
	var ge *GenerationError
	var se *ServiceUnavailableError
	return errors.As(err, &pe) || errors.As(err, &ge) || errors.As(err, &se)
}

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }
