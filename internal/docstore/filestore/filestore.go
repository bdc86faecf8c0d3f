// Package filestore is a docstore.Store keeping one human-readable JSON file
// per document below a base directory, e.g.
//
//	~/.tat/data/LedgerRoot/<uid>/Days/2026-02-27.json
//
// Transactions are serialized by an in-process mutex and a lock file shared
// with other processes. Staged documents are written to temp files and
// renamed into place on commit. A journal listing every rename, together with
// backups of the documents being replaced, is synced before the first rename,
// so a commit interrupted half way is rolled back by the next transaction.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

const (
	lockFileName    = ".lock"
	journalFileName = ".journal"
)

// staleLockAge is how old a lock file may get before it is assumed to be
// left behind by a crashed process.
const staleLockAge = 30 * time.Second

// FileStore implements docstore.Store on the local file system.
type FileStore struct {
	base   string
	retry  docstore.RetryPolicy
	mu     sync.Mutex
	rename func(oldpath, newpath string) error
}

// BaseDir returns the default data directory (~/.tat/data).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tat", "data"), nil
}

// Open returns a store rooted at base, creating the directory if needed.
func Open(base string) (*FileStore, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("storage error creating directories: %w", err)
	}
	return &FileStore{base: base, retry: docstore.DefaultRetryPolicy, rename: os.Rename}, nil
}

// docFilePath returns the JSON file path for a document.
func (s *FileStore) docFilePath(p docstore.Path) string {
	return filepath.Join(append([]string{s.base}, p.Segments()...)...) + ".json"
}

// RunTransaction implements docstore.Store.
func (s *FileStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return s.retry.Retry(ctx, func() error {
		return s.attempt(ctx, fn)
	})
}

func (s *FileStore) attempt(ctx context.Context, fn docstore.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.recoverJournal(); err != nil {
		return err
	}

	tx := docstore.NewBufferedTx(func(_ context.Context, p docstore.Path) (docstore.Fields, bool, error) {
		return s.load(p)
	})
	if err := fn(ctx, tx); err != nil {
		tx.Finish()
		return err
	}
	writes := tx.Finish()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(writes)
}

// lock acquires the cross-process lock file. A held lock is reported as a
// conflict so the retry policy backs off and tries again.
func (s *FileStore) lock() (func(), error) {
	path := filepath.Join(s.base, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(path)
		}
		return nil, docstore.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("%w: creating lock file: %w", docstore.ErrStoreUnavailable, err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

// load reads a committed document. A missing file is a missing document.
func (s *FileStore) load(p docstore.Path) (docstore.Fields, bool, error) {
	path := s.docFilePath(p)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage error reading %s: %w", path, err)
	}

	var fields docstore.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		// Back up corrupt file and abort.
		backupPath := path + ".corrupt"
		_ = os.Rename(path, backupPath)
		return nil, false, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", path, backupPath, err)
	}
	return fields, true, nil
}

// journalEntry records one rename of a commit. Backup is empty when the
// document did not exist before.
type journalEntry struct {
	Path   string `json:"path"`
	Tmp    string `json:"tmp"`
	Backup string `json:"backup,omitempty"`
}

// commit stages every document in a temp file, backs up the documents it
// replaces and syncs a journal before renaming anything into place. If a
// rename fails the renames already done are undone, so either every write
// lands or none does.
func (s *FileStore) commit(writes []docstore.Write) error {
	var entries []journalEntry
	discard := func() {
		for _, e := range entries {
			_ = os.Remove(e.Tmp)
			if e.Backup != "" {
				_ = os.Remove(e.Backup)
			}
		}
	}

	for _, w := range writes {
		path := s.docFilePath(w.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			discard()
			return fmt.Errorf("%w: creating directories: %w", docstore.ErrStoreUnavailable, err)
		}
		data, err := json.MarshalIndent(w.Fields, "", "  ")
		if err != nil {
			discard()
			return fmt.Errorf("storage error marshalling JSON: %w", err)
		}
		e := journalEntry{Path: path, Tmp: path + ".tmp"}
		if err := writeSynced(e.Tmp, data); err != nil {
			discard()
			return fmt.Errorf("%w: writing temp file: %w", docstore.ErrStoreUnavailable, err)
		}
		entries = append(entries, e)

		prev, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			discard()
			return fmt.Errorf("%w: reading %s: %w", docstore.ErrStoreUnavailable, path, err)
		default:
			entries[len(entries)-1].Backup = path + ".bak"
			if err := writeSynced(path+".bak", prev); err != nil {
				discard()
				return fmt.Errorf("%w: writing backup file: %w", docstore.ErrStoreUnavailable, err)
			}
		}
	}

	journal := filepath.Join(s.base, journalFileName)
	data, err := json.Marshal(entries)
	if err != nil {
		discard()
		return fmt.Errorf("storage error marshalling journal: %w", err)
	}
	if err := writeSynced(journal, data); err != nil {
		discard()
		_ = os.Remove(journal)
		return fmt.Errorf("%w: writing journal: %w", docstore.ErrStoreUnavailable, err)
	}

	for _, e := range entries {
		if err := s.rename(e.Tmp, e.Path); err != nil {
			if rbErr := s.rollback(entries); rbErr != nil {
				return fmt.Errorf("%w: renaming temp file: %w (rollback: %v)", docstore.ErrStoreUnavailable, err, rbErr)
			}
			return fmt.Errorf("%w: renaming temp file: %w", docstore.ErrStoreUnavailable, err)
		}
	}

	// The commit is durable once the journal is gone.
	if err := os.Remove(journal); err != nil {
		if rbErr := s.rollback(entries); rbErr != nil {
			return fmt.Errorf("%w: removing journal: %w (rollback: %v)", docstore.ErrStoreUnavailable, err, rbErr)
		}
		return fmt.Errorf("%w: removing journal: %w", docstore.ErrStoreUnavailable, err)
	}
	for _, e := range entries {
		if e.Backup != "" {
			_ = os.Remove(e.Backup)
		}
	}
	return nil
}

// rollback undoes the renames of an unfinished commit. An entry whose temp
// file still exists was never renamed and only needs cleaning up. The journal
// is removed last, so a rollback cut short is repeated on the next attempt.
func (s *FileStore) rollback(entries []journalEntry) error {
	for _, e := range entries {
		if _, err := os.Stat(e.Tmp); err == nil {
			_ = os.Remove(e.Tmp)
			if e.Backup != "" {
				_ = os.Remove(e.Backup)
			}
			continue
		}
		if e.Backup == "" {
			if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", e.Path, err)
			}
			continue
		}
		if err := os.Rename(e.Backup, e.Path); err != nil {
			return fmt.Errorf("restoring %s: %w", e.Path, err)
		}
	}
	if err := os.Remove(filepath.Join(s.base, journalFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing journal: %w", err)
	}
	return nil
}

// recoverJournal rolls back a commit left behind by a crashed process. It runs
// with the lock held.
func (s *FileStore) recoverJournal() error {
	data, err := os.ReadFile(filepath.Join(s.base, journalFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading journal: %w", docstore.ErrStoreUnavailable, err)
	}
	var entries []journalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A torn journal was never synced, so no rename followed it.
		_ = os.Remove(filepath.Join(s.base, journalFileName))
		return nil
	}
	if err := s.rollback(entries); err != nil {
		return fmt.Errorf("%w: recovering interrupted commit: %w", docstore.ErrStoreUnavailable, err)
	}
	return nil
}

// writeSynced writes data to path and flushes it to disk.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close implements docstore.Store.
func (s *FileStore) Close() error {
	return nil
}

// Base returns the root directory of the store.
func (s *FileStore) Base() string {
	return s.base
}
