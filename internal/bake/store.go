package bake

import (
	"fmt"
	"sync"
)

// Identity is the finalized content identity of a target.
type Identity struct {
	Self      string
	Deps      string
	Tags      []string
	BuildArgs map[string]string
}

// PrimaryTag returns the first resolved tag, or "".
func (i Identity) PrimaryTag() string {
	if len(i.Tags) == 0 {
		return ""
	}
	return i.Tags[0]
}

// ChecksumStore holds write-once identities for one invocation. Reads are safe
// from any goroutine.
type ChecksumStore struct {
	mu      sync.RWMutex
	entries map[string]Identity
}

func NewChecksumStore() *ChecksumStore {
	return &ChecksumStore{entries: map[string]Identity{}}
}

// Put finalizes the identity of id. A second Put for the same id fails.
func (s *ChecksumStore) Put(id string, ident Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("identity of target %s is already finalized", id)
	}
	ident.Tags = append([]string(nil), ident.Tags...)
	if ident.BuildArgs != nil {
		args := make(map[string]string, len(ident.BuildArgs))
		for k, v := range ident.BuildArgs {
			args[k] = v
		}
		ident.BuildArgs = args
	}
	s.entries[id] = ident
	return nil
}

// Get returns the finalized identity of id.
func (s *ChecksumStore) Get(id string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.entries[id]
	return ident, ok
}

