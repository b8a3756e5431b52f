package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// In-memory implementations of the collaborator interfaces. Used by tests and
// by local development without backing services. All are safe for concurrent
// use.

type memObject struct {
	data     []byte
	metadata map[string]string
}

// MemoryObjectStore is an in-memory ObjectStore.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string]memObject

	// ReadErr, when set, is returned by every Read. Test hook.
	ReadErr error
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memObject)}
}

func (m *MemoryObjectStore) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *MemoryObjectStore) Write(_ context.Context, name string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.objects[name] = memObject{data: cp, metadata: md}
	return nil
}

func (m *MemoryObjectStore) Metadata(_ context.Context, name string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	md := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		md[k] = v
	}
	return md, nil
}

func (m *MemoryObjectStore) EnsureBucket(context.Context) error { return nil }

// MemoryRecordStore is an in-memory RecordStore.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]StudentRecord
	writes  int

	// FailAfter, when > 0, makes every Upsert past the first FailAfter
	// writes return an error. Test hook for mid-batch failures.
	FailAfter int
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]StudentRecord)}
}

func (m *MemoryRecordStore) Upsert(_ context.Context, rec StudentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfter > 0 && m.writes >= m.FailAfter {
		return fmt.Errorf("record store unavailable")
	}
	m.writes++
	m.records[rec.ID] = rec
	return nil
}

// Get returns the record for id, if present.
func (m *MemoryRecordStore) Get(id string) (StudentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Len returns the number of committed records.
func (m *MemoryRecordStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// MemoryLedger is an in-memory Ledger. Its TryBegin performs the same
// read-then-create dance as the backed implementations, with the create
// (and the failed-row takeover) atomic under the mutex.
type MemoryLedger struct {
	mu   sync.Mutex
	rows map[string]ProcessingStatus
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: make(map[string]ProcessingStatus), now: time.Now}
}

func (m *MemoryLedger) TryBegin(_ context.Context, id string, meta BeginMeta) (BeginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.rows[id]; ok {
		switch row.Status {
		case StatusProcessed:
			return AlreadyProcessed, nil
		case StatusProcessing:
			return AlreadyInProgress, nil
		}
		// failed: fall through and let a fresh attempt take over
	}

	m.rows[id] = ProcessingStatus{
		ID:          id,
		Status:      StatusProcessing,
		ClassName:   meta.ClassName,
		SubjectName: meta.SubjectName,
		TeacherName: meta.TeacherName,
		StartedAt:   m.now(),
	}
	return Began, nil
}

func (m *MemoryLedger) Complete(_ context.Context, id string, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("ledger: no row for %s", id)
	}
	ts := m.now()
	row.Status = out.Status
	switch out.Status {
	case StatusProcessed:
		row.ProcessedAt = &ts
		row.Error = ""
	case StatusFailed:
		row.FailedAt = &ts
		row.Error = out.Error
	default:
		return fmt.Errorf("ledger: invalid terminal status %q", out.Status)
	}
	m.rows[id] = row
	return nil
}

// Row returns the ledger row for id, if present.
func (m *MemoryLedger) Row(id string) (ProcessingStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row, ok
}
