// Package errs defines the typed failures surfaced by the spatial index,
// the document store, and the orchestrator that keeps them consistent.
package errs

import (
	"errors"
	"fmt"
)

// ExtractionError reports a geometry that is missing, malformed, or yields a
// non-finite bounding box.
type ExtractionError struct {
	ID  string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("extract bbox: %v", e.Err)
	}
	return fmt.Sprintf("extract bbox %s: %v", e.ID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewExtractionError wraps err as an extraction failure for the given document id.
func NewExtractionError(id string, err error) *ExtractionError {
	return &ExtractionError{ID: id, Err: err}
}

// StoreError reports a failed document store operation (conflict, not found, I/O).
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a store failure.
func NewStoreError(op, id string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Err: err}
}

// IndexError reports malformed input at spatial index mutation time.
type IndexError struct {
	Op  string
	ID  string
	Err error
}

func (e *IndexError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("index %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("index %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// NewIndexError wraps err as an index failure.
func NewIndexError(op, id string, err error) *IndexError {
	return &IndexError{Op: op, ID: id, Err: err}
}

// PredicateError reports that the evaluator rejected a geometry pair. It
// fails the whole query.
type PredicateError struct {
	Relation string
	ID       string
	Err      error
}

func (e *PredicateError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("predicate %s: %v", e.Relation, e.Err)
	}
	return fmt.Sprintf("predicate %s on %s: %v", e.Relation, e.ID, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// NewPredicateError wraps err as a predicate failure for the candidate id.
func NewPredicateError(relation, id string, err error) *PredicateError {
	return &PredicateError{Relation: relation, ID: id, Err: err}
}

// UnknownRelationError is returned when a relation name is not one of the
// ten supported topological relations.
type UnknownRelationError struct {
	Name string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("unknown relation %q", e.Name)
}

// RollbackError carries the original failure of a multi-step mutation
// together with the failure of its compensating action. Both remain
// reachable through errors.Is and errors.As.
type RollbackError struct {
	Op          string
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s: %v (rollback failed: %v)", e.Op, e.Err, e.RollbackErr)
}

func (e *RollbackError) Unwrap() []error { return []error{e.Err, e.RollbackErr} }

// WithRollback returns err unchanged when the compensation succeeded, and a
// RollbackError reporting both failures otherwise.
func WithRollback(op string, err, rollbackErr error) error {
	if rollbackErr == nil {
		return err
	}
	return &RollbackError{Op: op, Err: err, RollbackErr: rollbackErr}
}

// IsKind reports whether err carries a typed failure of the same kind as
// target (one of the pointer types in this package).
func IsKind[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
