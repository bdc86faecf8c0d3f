// Package docstore defines the hierarchical document store the ledger runs
// its read-modify-write transactions against.
//
// Documents live at paths of alternating collection and document ids, e.g.
// LedgerRoot/{uid}/Days/{date}. A transaction body reads documents through
// Tx.Get and stages writes through Tx.Set; the store commits all staged writes
// atomically when the body returns nil and discards them otherwise.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConflict is returned by a backend when a transaction lost a race and
	// may be retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrStoreUnavailable is returned when a transaction could not commit,
	// including after exhausting its retries.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidPath is returned for paths that do not address a document.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrTxDone is returned when a Tx is used after its body returned.
	ErrTxDone = errors.New("transaction already finished")
)

// Fields are the top-level fields of a document.
type Fields = map[string]any

// Path addresses a document.
type Path struct {
	segments []string
}

// Doc builds a document path from alternating collection and document ids.
// It panics on an odd or empty segment list; paths are built from constants
// and validated ids, so a bad path is a programming error.
func Doc(segments ...string) Path {
	p, err := ParsePath(strings.Join(segments, "/"))
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePath parses a slash-separated document path.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) == 0 || len(parts)%2 != 0 {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
	}
	return Path{segments: parts}, nil
}

// String joins the path with slashes.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// ID returns the document id, the last path segment.
func (p Path) ID() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the collection path containing the document.
func (p Path) Parent() string {
	if len(p.segments) == 0 {
		return ""
	}
	return strings.Join(p.segments[:len(p.segments)-1], "/")
}

// Child returns the path of a document in a subcollection of p.
func (p Path) Child(collection, id string) Path {
	return Doc(append(p.Segments(), collection, id)...)
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Snapshot is the result of reading a document inside a transaction.
type Snapshot struct {
	Path   Path
	Exists bool
	Fields Fields
}

// Get returns a top-level field, or nil when the document or field is absent.
func (s Snapshot) Get(field string) any {
	if !s.Exists || s.Fields == nil {
		return nil
	}
	return s.Fields[field]
}

// SetOptions controls how Set applies fields.
type SetOptions struct {
	// Merge replaces only the given top-level fields and keeps all others.
	// Without Merge the document is overwritten.
	Merge bool
}

// Merge is the SetOptions value for field-scoped writes.
var Merge = SetOptions{Merge: true}

// Tx is the view of a running transaction.
type Tx interface {
	// Get reads a document, observing writes staged earlier in the same
	// transaction.
	Get(ctx context.Context, path Path) (Snapshot, error)
	// Set stages a write that is applied when the transaction commits.
	Set(path Path, fields Fields, opts SetOptions) error
}

// TxFunc is a transaction body. It may run more than once when the store
// retries a conflicting transaction, so it must not have side effects outside
// of the Tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs transactions.
type Store interface {
	// RunTransaction runs fn and commits its writes atomically. If fn returns
	// an error nothing is written and that error is returned unchanged.
	RunTransaction(ctx context.Context, fn TxFunc) error
	Close() error
}

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used by all backends unless overridden.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond}

// Retry runs attempt until it succeeds, returns a non-conflict error, or the
// policy is exhausted. Exhaustion is reported as ErrStoreUnavailable.
func (r RetryPolicy) Retry(ctx context.Context, attempt func() error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 && r.Backoff > 0 {
			t := time.NewTimer(r.Backoff * time.Duration(i))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
			case <-t.C:
			}
		}
		err = attempt()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %w", ErrStoreUnavailable, maxAttempts, err)
}

// ApplySet applies a staged write to the current fields of a document and
// returns the new fields. current may be nil for a missing document.
func ApplySet(current Fields, fields Fields, opts SetOptions) Fields {
	out := Fields{}
	if opts.Merge {
		for k, v := range current {
			out[k] = v
		}
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
