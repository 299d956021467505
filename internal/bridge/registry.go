// Package bridge relays in-game chat from a server's log to its chat and
// tracks which servers currently have a relay running.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// ErrSpawn wraps failures to start a relay task.
var ErrSpawn = errors.New("bridge: spawn relay")

type ActivateResult int

const (
	Activated ActivateResult = iota
	AlreadyActive
)

func (r ActivateResult) String() string {
	if r == Activated {
		return "activated"
	}
	return "already_active"
}

type DeactivateResult int

const (
	Deactivated DeactivateResult = iota
	WasInactive
)

func (r DeactivateResult) String() string {
	if r == Deactivated {
		return "deactivated"
	}
	return "was_inactive"
}

// Session describes one running relay.
type Session struct {
	Identity domain.ServiceIdentity `json:"identity"`
	ChatID   int64                  `json:"chat_id"`
	TaskID   string                 `json:"task_id"`
	Since    time.Time              `json:"since"`
}

// Registry owns at most one relay task per identity. The write lock is held
// across the check, the spawn and the insert, so concurrent activations for
// one identity can never store two tasks.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ServiceIdentity]*RelayTask
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ServiceIdentity]*RelayTask)}
}

func (r *Registry) IsActive(id domain.ServiceIdentity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// TryActivate stores the task returned by spawn unless id already has one.
// spawn is not called when the identity is already active. A spawn error
// leaves the registry unchanged.
func (r *Registry) TryActivate(id domain.ServiceIdentity, spawn func() (*RelayTask, error)) (ActivateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return AlreadyActive, nil
	}
	task, err := spawn()
	if err != nil {
		return AlreadyActive, fmt.Errorf("%w for %s: %w", ErrSpawn, id, err)
	}
	if task == nil {
		return AlreadyActive, fmt.Errorf("%w for %s: no task", ErrSpawn, id)
	}
	r.sessions[id] = task

	// A relay whose log source ends on its own must not linger as active.
	go func() {
		<-task.Done()
		r.forget(id, task)
	}()
	return Activated, nil
}

// Deactivate cancels and removes the relay for id. It does not wait for the
// task to wind down.
func (r *Registry) Deactivate(id domain.ServiceIdentity) DeactivateResult {
	r.mu.Lock()
	task, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return WasInactive
	}
	task.Cancel()
	return Deactivated
}

func (r *Registry) forget(id domain.ServiceIdentity, task *RelayTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[id] == task {
		delete(r.sessions, id)
	}
}

// Sessions lists running relays ordered by identity.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, task := range r.sessions {
		out = append(out, task.Session())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Shutdown cancels every relay and waits for them until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	tasks := make([]*RelayTask, 0, len(r.sessions))
	for id, task := range r.sessions {
		tasks = append(tasks, task)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, task := range tasks {
		task.Cancel()
	}
	for _, task := range tasks {
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
