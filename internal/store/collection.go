// Package store is the durable two-collection record store described in
// spec §4.1: users and messages, each serialized to its own JSON file and
// guarded by a mutual-exclusion discipline. Every successful mutation
// rewrites the full collection file before returning, so a subsequent read
// in the same process always observes it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// IOError wraps a persistence failure so callers can classify it as the
// dispatcher's StoreIO error kind (spec §7) without string-matching.
type IOError struct{ Err error }

func (e *IOError) Error() string { return fmt.Sprintf("store io: %v", e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// collection is a generic append-mostly file-backed record set. It is the
// engine behind both the users and messages collections: load the whole
// file into memory at startup, then rewrite the whole file on every
// mutation. Atomic replace (write to a temp file, then rename) follows the
// same pattern the teacher used for its point-in-time snapshots.
type collection[T any] struct {
	mu      sync.Mutex
	path    string
	records []T
}

func openCollection[T any](path string) (*collection[T], error) {
	c := &collection[T]{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, &IOError{Err: err}
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.records); err != nil {
		return nil, &IOError{Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return c, nil
}

// save rewrites the entire collection file. Atomic rename means a crash
// mid-write leaves the previous durable copy intact.
func (c *collection[T]) save() error {
	data, err := json.MarshalIndent(c.records, "", "  ")
	if err != nil {
		return &IOError{Err: err}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &IOError{Err: err}
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return &IOError{Err: err}
	}
	return nil
}

// insert appends rec unconditionally.
func (c *collection[T]) insert(rec T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return c.save()
}

// insertIfAbsent appends rec only if no existing record matches exist,
// atomically with respect to other collection operations — this is what
// gives Register its uniqueness guarantee without a separate check-then-act
// race window.
func (c *collection[T]) insertIfAbsent(exists func(T) bool, rec T) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if exists(r) {
			return false, nil
		}
	}
	c.records = append(c.records, rec)
	if err := c.save(); err != nil {
		return false, err
	}
	return true, nil
}

// readWhere returns a snapshot copy of every record matching.
func (c *collection[T]) readWhere(match func(T) bool) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0)
	for _, r := range c.records {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

// updateWhere applies mutate to every matching record and persists if any
// record changed.
func (c *collection[T]) updateWhere(match func(T) bool, mutate func(*T)) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.records {
		if match(c.records[i]) {
			mutate(&c.records[i])
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := c.save(); err != nil {
		return 0, err
	}
	return n, nil
}

// deleteWhere removes every matching record and persists if any were
// removed.
func (c *collection[T]) deleteWhere(match func(T) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]T, 0, len(c.records))
	removed := 0
	for _, r := range c.records {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	c.records = kept
	if err := c.save(); err != nil {
		return 0, err
	}
	return removed, nil
}
