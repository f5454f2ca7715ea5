// Package store holds the key-value state machine that committed log
// entries are applied to. It is backed by a persistent (immutable) radix
// tree rather than a plain map so that a snapshot for the diagnostics
// surface (see internal/api) never has to block or race the replica's
// single-threaded apply loop: each write produces a new tree root, and a
// reader holding an old root sees a perfectly consistent, unchanging view.
package store

import (
	iradix "github.com/hashicorp/go-immutable-radix"
)

// KV is the replicated map. None of its methods is safe to call
// concurrently with Put -- only the replica's event loop ever mutates or
// reads it directly. The loop calls Snapshot when it publishes its status;
// the map Snapshot returns is a private copy, so that copy may be read
// from other goroutines.
type KV struct {
	tree *iradix.Tree
}

// New returns an empty store.
func New() *KV {
	return &KV{tree: iradix.New()}
}

// Put records value under key, applying a committed "put" log entry.
func (s *KV) Put(key, value string) {
	tree, _, _ := s.tree.Insert([]byte(key), value)
	s.tree = tree
}

// Get returns the value for key and whether it is present.
func (s *KV) Get(key string) (string, bool) {
	v, ok := s.tree.Get([]byte(key))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Snapshot returns a plain-map copy of the current contents, suitable
// for the introspection endpoint or tests.
func (s *KV) Snapshot() map[string]string {
	out := make(map[string]string)
	s.tree.Root().Walk(func(k []byte, v interface{}) bool {
		out[string(k)] = v.(string)
		return false
	})
	return out
}
