// Package errdefs defines the failure taxonomy of an ingestion run.
//
// Every typed error matches its sentinel through errors.Is and exposes the
// underlying cause through Unwrap, so callers can branch on the category
// without string matching.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel categories.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrAuthentication      = errors.New("authentication failed")
	ErrQueryExecution      = errors.New("query execution failed")
	ErrSchemaValidation    = errors.New("schema validation failed")
	ErrStaging             = errors.New("staging failed")
	ErrDestinationWrite    = errors.New("destination write failed")
)

// ConfigurationError reports missing or invalid run settings.
type ConfigurationError struct {
	// Fields lists the offending setting keys, if any.
	Fields  []string
	Problem string
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("configuration error: %s", e.Problem)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Problem, strings.Join(e.Fields, ", "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Missing builds a ConfigurationError for absent required settings.
func Missing(fields ...string) *ConfigurationError {
	return &ConfigurationError{Fields: fields, Problem: "missing required settings"}
}

// Invalid builds a ConfigurationError for a setting with a bad value.
func Invalid(field, problem string) *ConfigurationError {
	return &ConfigurationError{Fields: []string{field}, Problem: problem}
}

// CredentialsNotFoundError reports an empty or non-existent credentials path.
type CredentialsNotFoundError struct {
	Path string
	Err  error
}

func (e *CredentialsNotFoundError) Error() string {
	if e.Path == "" {
		return "credentials not found: no path given; set GOOGLE_APPLICATION_CREDENTIALS or pass an explicit credentials path"
	}
	if e.Err != nil {
		return fmt.Sprintf("credentials not found at %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("credentials not found at %q", e.Path)
}

func (e *CredentialsNotFoundError) Is(target error) bool {
	return target == ErrCredentialsNotFound
}

func (e *CredentialsNotFoundError) Unwrap() error { return e.Err }

// AuthenticationError reports credentials rejected by the warehouse.
type AuthenticationError struct {
	Project string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for project %q: %v", e.Project, e.Err)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// QueryExecutionError wraps any failure of the remote query.
type QueryExecutionError struct {
	Query   string
	Elapsed time.Duration
	Err     error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query failed after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *QueryExecutionError) Is(target error) bool {
	return target == ErrQueryExecution
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// SchemaValidationError lists every column that does not match the expected shape.
type SchemaValidationError struct {
	Problems []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Problems, "; "))
}

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// StagingError reports a failure creating the staged table.
type StagingError struct {
	Table string
	Err   error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging table %q: %v", e.Table, e.Err)
}

func (e *StagingError) Is(target error) bool {
	return target == ErrStaging
}

func (e *StagingError) Unwrap() error { return e.Err }

// DestinationWriteError reports an unmet precondition or failed write for one destination.
type DestinationWriteError struct {
	Destination string
	// Completed lists destinations written before this one failed.
	Completed []string
	Err       error
}

func (e *DestinationWriteError) Error() string {
	msg := fmt.Sprintf("destination %s: %v", e.Destination, e.Err)
	if len(e.Completed) > 0 {
		msg += fmt.Sprintf(" (completed before failure: %s)", strings.Join(e.Completed, ", "))
	}
	return msg
}

func (e *DestinationWriteError) Is(target error) bool {
	return target == ErrDestinationWrite
}

func (e *DestinationWriteError) Unwrap() error { return e.Err }
