package domain

import (
	"context"
	"errors"
	"fmt"
)

// BulkRequest is one batch of untyped items of a single kind.
type BulkRequest struct {
	Kind   Kind
	Items  []map[string]any
	Source string
	DryRun bool

	// ProviderHint is used for rows without a provider (loader: inferred from the file name).
	ProviderHint string
	// OrganizationID fills rows that do not name their organization.
	OrganizationID string
	// CloudAccountID fills rows without a cloud account; CloudAccounts overrides it per provider.
	CloudAccountID string
	CloudAccounts  map[string]string
}

// RowError reports a rejected item by its 0-based position in the request.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchResult is returned for every committed (or dry-run) batch.
type BatchResult struct {
	BatchID  string     `json:"-"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Errors   []RowError `json:"errors"`
}

// Processed is the number of rows that reached storage.
func (r BatchResult) Processed() int {
	return r.Inserted + r.Updated
}

type Service interface {
	Ingest(ctx context.Context, req BulkRequest) (BatchResult, error)
}

// BatchState tracks a batch through the pipeline.
type BatchState string

const (
	StateReceived    BatchState = "RECEIVED"
	StateNormalizing BatchState = "NORMALIZING"
	StateValidating  BatchState = "VALIDATING"
	StateResolving   BatchState = "RESOLVING"
	StateCommitting  BatchState = "COMMITTING"
	StateCommitted   BatchState = "COMMITTED"
	StateAborted     BatchState = "ABORTED"
)

var (
	ErrInvalidKind     = errors.New("invalid_kind")
	ErrInvalidItems    = errors.New("invalid_items")
	ErrTooManyItems    = errors.New("too_many_items")
	ErrAllRowsRejected = errors.New("all_rows_rejected")
	ErrBatchAborted    = errors.New("batch_aborted")
)

// RejectedBatchError carries the row errors of a batch in which no row was usable.
type RejectedBatchError struct {
	BatchID string
	Errors  []RowError
}

func (e *RejectedBatchError) Error() string {
	return fmt.Sprintf("%s: %d rows rejected", ErrAllRowsRejected, len(e.Errors))
}

func (e *RejectedBatchError) Unwrap() error { return ErrAllRowsRejected }

// Result is the body reported for a rejected batch: zero counts and every row error.
func (e *RejectedBatchError) Result() BatchResult {
	return BatchResult{BatchID: e.BatchID, Errors: e.Errors}
}

// AbortedBatchError wraps the storage failure that aborted a batch.
type AbortedBatchError struct {
	BatchID string
	Cause   error
}

func (e *AbortedBatchError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBatchAborted, e.Cause)
}

func (e *AbortedBatchError) Unwrap() []error { return []error{ErrBatchAborted, e.Cause} }
