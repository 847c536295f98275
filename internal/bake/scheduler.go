// File: internal/bake/scheduler.go
// Brief: Ready-set scheduling of targets in dependency order.

package bake

import (
	"fmt"
	"sort"
	"sync"
)

const (
	statusPlanned   = "planned"
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusBlocked   = "blocked"
)

type scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	order []string
	index map[string]int

	inDegree   map[string]int
	deps       map[string][]string
	dependents map[string][]string

	ready   []string
	running int

	status    map[string]string // planned, running, succeeded, failed, blocked
	blockedBy map[string]string

	stopped bool
}

// newScheduler schedules order, which must be a dependency-closed topological
// order. Ready targets are handed out in that order.
func newScheduler(order []string, depsOf func(id string) []string) *scheduler {
	s := &scheduler{
		order:      append([]string(nil), order...),
		index:      map[string]int{},
		inDegree:   map[string]int{},
		deps:       map[string][]string{},
		dependents: map[string][]string{},
		status:     map[string]string{},
		blockedBy:  map[string]string{},
	}
	s.cond = sync.NewCond(&s.mu)
	for i, id := range order {
		s.index[id] = i
		s.status[id] = statusPlanned
	}
	for _, id := range order {
		for _, dep := range depsOf(id) {
			if _, ok := s.index[dep]; !ok {
				continue
			}
			s.deps[id] = append(s.deps[id], dep)
			s.dependents[dep] = append(s.dependents[dep], id)
		}
		s.inDegree[id] = len(s.deps[id])
	}
	for _, id := range order {
		if s.inDegree[id] == 0 {
			s.ready = append(s.ready, id)
		}
	}
	return s
}

func (s *scheduler) sortReady() {
	sort.Slice(s.ready, func(i, j int) bool { return s.index[s.ready[i]] < s.index[s.ready[j]] })
}

// Stop prevents any further target from starting.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cond.Broadcast()
}

// NextReady blocks until a target can start and marks it running. It returns
// false once the scheduler is stopped or nothing is left to start.
func (s *scheduler) NextReady() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped {
			return "", false
		}
		for len(s.ready) > 0 {
			id := s.ready[0]
			s.ready = s.ready[1:]
			if s.status[id] != statusPlanned {
				continue
			}
			blocked := ""
			for _, dep := range s.deps[id] {
				if s.status[dep] != statusSucceeded {
					blocked = fmt.Sprintf("blocked by %s (%s)", dep, s.status[dep])
					break
				}
			}
			if blocked != "" {
				s.setBlocked(id, blocked)
				continue
			}
			s.status[id] = statusRunning
			s.running++
			return id, true
		}
		if s.running == 0 {
			return "", false
		}
		s.cond.Wait()
	}
}

func (s *scheduler) MarkSucceeded(id string) {
	s.finish(id, statusSucceeded)
}

func (s *scheduler) MarkFailed(id string) {
	s.finish(id, statusFailed)
}

// Release returns a running target to planned without running it.
func (s *scheduler) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[id] != statusRunning {
		return
	}
	s.status[id] = statusPlanned
	s.running--
	s.cond.Broadcast()
}

func (s *scheduler) finish(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[id] != statusRunning {
		return
	}
	s.status[id] = status
	s.running--
	s.release(id)
	s.cond.Broadcast()
}

// release lets the dependents of a finished target through; NextReady blocks
// the ones whose dependencies did not succeed.
func (s *scheduler) release(id string) {
	for _, dependent := range s.dependents[id] {
		s.inDegree[dependent]--
		if s.inDegree[dependent] == 0 {
			s.ready = append(s.ready, dependent)
		}
	}
	s.sortReady()
}

func (s *scheduler) setBlocked(id string, reason string) {
	if s.status[id] != statusPlanned {
		return
	}
	s.status[id] = statusBlocked
	s.blockedBy[id] = reason
	s.release(id)
}

// FinalizeBlocked marks planned targets downstream of a failure as blocked.
// Call it after the workers have drained.
func (s *scheduler) FinalizeBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.status[id] != statusPlanned {
			continue
		}
		for _, dep := range s.deps[id] {
			if st := s.status[dep]; st == statusFailed || st == statusBlocked {
				s.setBlocked(id, fmt.Sprintf("blocked by %s (%s)", dep, st))
				break
			}
		}
	}
}

type schedulerSnapshot struct {
	Status    map[string]string
	BlockedBy map[string]string
}

func (s *scheduler) Snapshot() schedulerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := make(map[string]string, len(s.status))
	for k, v := range s.status {
		status[k] = v
	}
	blocked := make(map[string]string, len(s.blockedBy))
	for k, v := range s.blockedBy {
		blocked[k] = v
	}
	return schedulerSnapshot{Status: status, BlockedBy: blocked}
}
