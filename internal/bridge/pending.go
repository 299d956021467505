package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// Pending is a request to enable the bridge once a starting server is ready.
type Pending struct {
	Identity  domain.ServiceIdentity `json:"identity"`
	ChatID    int64                  `json:"chat_id"`
	MessageID int                    `json:"message_id"`
	RequestID string                 `json:"request_id"`
	CreatedAt time.Time              `json:"created_at"`
}

type RecordResult int

const (
	Recorded RecordResult = iota
	AlreadyPending
)

// PendingActivations holds at most one Pending per identity.
type PendingActivations struct {
	mu      sync.RWMutex
	entries map[domain.ServiceIdentity]Pending
	now     func() time.Time
}

func NewPendingActivations() *PendingActivations {
	return &PendingActivations{
		entries: make(map[domain.ServiceIdentity]Pending),
		now:     time.Now,
	}
}

// TryRecord stores p unless its identity already has a pending request.
// CreatedAt is stamped when zero.
func (p *PendingActivations) TryRecord(entry Pending) RecordResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[entry.Identity]; ok {
		return AlreadyPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.now()
	}
	p.entries[entry.Identity] = entry
	return Recorded
}

func (p *PendingActivations) Has(id domain.ServiceIdentity) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[id]
	return ok
}

// Consume removes and returns the pending request for id. Only one caller
// ever gets a given entry.
func (p *PendingActivations) Consume(id domain.ServiceIdentity) (Pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return entry, ok
}

// Expire removes and returns entries created before cutoff.
func (p *PendingActivations) Expire(cutoff time.Time) []Pending {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []Pending
	for id, entry := range p.entries {
		if entry.CreatedAt.Before(cutoff) {
			expired = append(expired, entry)
			delete(p.entries, id)
		}
	}
	sortPending(expired)
	return expired
}

func (p *PendingActivations) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Snapshot lists pending requests ordered by identity.
func (p *PendingActivations) Snapshot() []Pending {
	p.mu.RLock()
	out := make([]Pending, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry)
	}
	p.mu.RUnlock()

	sortPending(out)
	return out
}

func sortPending(entries []Pending) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
}
