package webhook

import (
	"context"
	"sync"
	"time"
)

// RecordStore persists normalized domain records. Updates are keyed by id so
// redelivered events overwrite rather than append; that keeps handlers
// idempotent even if a rare dedup race lets a duplicate through.
type RecordStore interface {
	Upsert(ctx context.Context, kind, id string, fields map[string]any) error
}

// Notifier sends side-channel notifications (email, ops alerts). External
// collaborator behind a narrow interface.
type Notifier interface {
	Send(ctx context.Context, event string, data map[string]any) error
}

// Scheduler enqueues follow-up work: retry eligibility checks, expiration
// checks, evidence submission deadlines.
type Scheduler interface {
	Schedule(ctx context.Context, task string, runAt time.Time, data map[string]any) error
}

// MemoryRecordStore is an in-process RecordStore for tests and development.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]map[string]map[string]any
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]map[string]map[string]any)}
}

func (s *MemoryRecordStore) Upsert(_ context.Context, kind, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[kind]
	if !ok {
		byID = make(map[string]map[string]any)
		s.records[kind] = byID
	}
	existing, ok := byID[id]
	if !ok {
		existing = make(map[string]any)
		byID[id] = existing
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// Get returns a stored record copy, if present.
func (s *MemoryRecordStore) Get(kind, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[kind][id]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out, true
}

// MemoryNotifier collects sent notifications for inspection.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []SentNotification
}

type SentNotification struct {
	Event string
	Data  map[string]any
}

func NewMemoryNotifier() *MemoryNotifier { return &MemoryNotifier{} }

func (n *MemoryNotifier) Send(_ context.Context, event string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, SentNotification{Event: event, Data: data})
	return nil
}

func (n *MemoryNotifier) Sent() []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentNotification(nil), n.sent...)
}

// MemoryScheduler collects scheduled tasks for inspection.
type MemoryScheduler struct {
	mu    sync.Mutex
	tasks []ScheduledTask
}

type ScheduledTask struct {
	Task  string
	RunAt time.Time
	Data  map[string]any
}

func NewMemoryScheduler() *MemoryScheduler { return &MemoryScheduler{} }

func (s *MemoryScheduler) Schedule(_ context.Context, task string, runAt time.Time, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, ScheduledTask{Task: task, RunAt: runAt, Data: data})
	return nil
}

func (s *MemoryScheduler) Tasks() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledTask(nil), s.tasks...)
}
