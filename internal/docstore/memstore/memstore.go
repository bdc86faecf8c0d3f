// Package memstore is an in-memory docstore.Store with optimistic
// concurrency control: every document carries a version, a transaction
// records the versions it read, and commit fails with a conflict (and is
// retried) when any of them changed in between.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

type document struct {
	fields  docstore.Fields
	version uint64
}

// MemStore is safe for concurrent use.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]document
	// clock is bumped on every committed write and used as the new version.
	clock uint64

	retry docstore.RetryPolicy

	// forcedConflicts makes the next n commits fail with a conflict.
	forcedConflicts int
	commits         int
}

// Option configures a MemStore.
type Option func(*MemStore)

// WithRetryPolicy overrides docstore.DefaultRetryPolicy.
func WithRetryPolicy(p docstore.RetryPolicy) Option {
	return func(m *MemStore) { m.retry = p }
}

// New returns an empty store.
func New(opts ...Option) *MemStore {
	m := &MemStore{
		docs:  map[string]document{},
		retry: docstore.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunTransaction implements docstore.Store.
func (m *MemStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return m.retry.Retry(ctx, func() error {
		return m.attempt(ctx, fn)
	})
}

func (m *MemStore) attempt(ctx context.Context, fn docstore.TxFunc) error {
	var readMu sync.Mutex
	readVersions := map[string]uint64{}

	tx := docstore.NewBufferedTx(func(_ context.Context, p docstore.Path) (docstore.Fields, bool, error) {
		m.mu.RLock()
		doc, ok := m.docs[p.String()]
		m.mu.RUnlock()

		readMu.Lock()
		if _, seen := readVersions[p.String()]; !seen {
			readVersions[p.String()] = doc.version
		}
		readMu.Unlock()

		if !ok {
			return nil, false, nil
		}
		return docstore.CloneFields(doc.fields), true, nil
	})

	if err := fn(ctx, tx); err != nil {
		tx.Finish()
		return err
	}
	writes := tx.Finish()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		return docstore.ErrConflict
	}
	for key, v := range readVersions {
		if m.docs[key].version != v {
			return docstore.ErrConflict
		}
	}
	if len(writes) == 0 {
		return nil
	}
	m.clock++
	for _, w := range writes {
		m.docs[w.Path.String()] = document{fields: docstore.CloneFields(w.Fields), version: m.clock}
	}
	m.commits++
	return nil
}

// Close implements docstore.Store.
func (m *MemStore) Close() error {
	return nil
}

// ForceConflicts makes the next n commits fail with docstore.ErrConflict.
func (m *MemStore) ForceConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedConflicts = n
}

// Commits returns the number of transactions that committed at least one write.
func (m *MemStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// Document returns a copy of a committed document.
func (m *MemStore) Document(p docstore.Path) (docstore.Fields, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[p.String()]
	if !ok {
		return nil, false
	}
	return docstore.CloneFields(doc.fields), true
}

// Put writes a document outside of any transaction. Tests use it to seed
// state, including states the ledger itself never produces.
func (m *MemStore) Put(p docstore.Path, fields docstore.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++
	m.docs[p.String()] = document{fields: docstore.CloneFields(fields), version: m.clock}
}

// List returns the paths of all documents directly inside collection.
func (m *MemStore) List(collection string) []string {
	collection = strings.Trim(collection, "/")
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for key := range m.docs {
		p, err := docstore.ParsePath(key)
		if err != nil {
			continue
		}
		if p.Parent() == collection {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
