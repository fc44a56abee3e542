package journal

import (
	"context"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/ledger"
)

type memoryRecord struct {
	payload      []byte
	nextSequence uint64
}

// MemoryStore keeps records in process memory. It applies the same stale-write
// guard as the Postgres store so tests exercise identical semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore constructs an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// SaveRecord implements Store.
func (s *MemoryStore) SaveRecord(ctx context.Context, record *ledger.LiveTradingRecord) error {
	if err := ctx.Err(); err != nil {
		return errs.New("journal/memory", errs.CodeStorage, errs.WithCause(err))
	}
	if record == nil {
		return errs.New("journal/memory", errs.CodeStorage,
			errs.WithMessage("record required"))
	}
	name, err := validateName(record.Name())
	if err != nil {
		return err
	}
	snap := record.Snapshot()
	payload, err := json.Marshal(record)
	if err != nil {
		return errs.New("journal/memory", errs.CodeSerialization,
			errs.WithMessage("encode record"), errs.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[name]; ok && existing.nextSequence > snap.NextSequence {
		return errs.New("journal/memory", errs.CodeConflict,
			errs.WithMessage("stored record is ahead of this writer"))
	}
	s.records[name] = memoryRecord{payload: payload, nextSequence: snap.NextSequence}
	return nil
}

// LoadRecord implements Store. The returned record is rehydrated with default
// cost models.
func (s *MemoryStore) LoadRecord(ctx context.Context, name string) (*ledger.LiveTradingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New("journal/memory", errs.CodeStorage, errs.WithCause(err))
	}
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	stored, ok := s.records[trimmed]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.New("journal/memory", errs.CodeNotFound,
			errs.WithMessage("record "+trimmed+" not found"))
	}

	record := new(ledger.LiveTradingRecord)
	if err := json.Unmarshal(stored.payload, record); err != nil {
		return nil, errs.New("journal/memory", errs.CodeSerialization,
			errs.WithMessage("decode record"), errs.WithCause(err))
	}
	if err := record.Rehydrate(nil); err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords implements Store. Names are returned sorted.
func (s *MemoryStore) ListRecords(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New("journal/memory", errs.CodeStorage, errs.WithCause(err))
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// DeleteRecord implements Store.
func (s *MemoryStore) DeleteRecord(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return errs.New("journal/memory", errs.CodeStorage, errs.WithCause(err))
	}
	trimmed, err := validateName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[trimmed]; !ok {
		return errs.New("journal/memory", errs.CodeNotFound,
			errs.WithMessage("record "+trimmed+" not found"))
	}
	delete(s.records, trimmed)
	return nil
}
