package docstore

import (
	"context"
	"fmt"
	"sync"
)

// ReadFunc loads the committed fields of a document. ok is false when the
// document does not exist.
type ReadFunc func(ctx context.Context, path Path) (fields Fields, ok bool, err error)

// Write is a resolved document write: the full field set the document has
// after commit.
type Write struct {
	Path   Path
	Fields Fields
}

// BufferedTx is a Tx that stages writes in memory until the backend commits
// them. Backends share it so read-your-writes and merge semantics are
// identical everywhere.
type BufferedTx struct {
	read ReadFunc

	mu     sync.Mutex
	order  []string
	writes map[string]Write
	done   bool
}

// NewBufferedTx returns a Tx reading committed state through read.
func NewBufferedTx(read ReadFunc) *BufferedTx {
	return &BufferedTx{read: read, writes: map[string]Write{}}
}

// Get implements Tx.
func (t *BufferedTx) Get(ctx context.Context, path Path) (Snapshot, error) {
	if path.IsZero() {
		return Snapshot{}, ErrInvalidPath
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return Snapshot{}, ErrTxDone
	}
	w, staged := t.writes[path.String()]
	t.mu.Unlock()
	if staged {
		return Snapshot{Path: path, Exists: true, Fields: CloneFields(w.Fields)}, nil
	}

	fields, ok, err := t.read(ctx, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if !ok {
		return Snapshot{Path: path}, nil
	}
	return Snapshot{Path: path, Exists: true, Fields: CloneFields(fields)}, nil
}

// Set implements Tx. With Merge the committed document is read once so the
// staged write carries the complete resulting field set.
func (t *BufferedTx) Set(path Path, fields Fields, opts SetOptions) error {
	if path.IsZero() {
		return ErrInvalidPath
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}

	key := path.String()
	var base Fields
	if prev, ok := t.writes[key]; ok {
		base = prev.Fields
	} else if opts.Merge {
		current, ok, err := t.read(context.Background(), path)
		if err != nil {
			return fmt.Errorf("reading %s for merge: %w", path, err)
		}
		if ok {
			base = current
		}
	}
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = Write{Path: path, Fields: CloneFields(ApplySet(base, fields, opts))}
	return nil
}

// Finish marks the transaction as done and returns its writes in the order
// their documents were first written.
func (t *BufferedTx) Finish() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	out := make([]Write, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.writes[key])
	}
	return out
}

// CloneFields deep-copies nested maps and slices so stored documents never
// alias caller memory.
func CloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneFields(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
