package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/orchestra/pkg/api"
)

// InMemoryBackend is a goroutine-safe Backend backed by a map. Records are
// copied on the way in and out.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Ensure InMemoryBackend implements Backend.
var _ Backend = (*InMemoryBackend)(nil)

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		records: make(map[string]Record),
	}
}

func cloneRecord(rec Record) Record {
	rec.Fields = append([]Field(nil), rec.Fields...)
	return rec
}

func (b *InMemoryBackend) Put(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[rec.UUID] = cloneRecord(rec)
	return nil
}

func (b *InMemoryBackend) Get(_ context.Context, uuid string) (Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[uuid]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (b *InMemoryBackend) SetState(_ context.Context, uuid string, from, to api.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[uuid]
	if !ok {
		return ErrNotFound
	}
	if rec.State != from {
		return stateConflict(uuid, from, rec.State)
	}
	rec.State = to
	b.records[uuid] = rec
	return nil
}

func (b *InMemoryBackend) List(_ context.Context, filter Filter) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for _, rec := range b.records {
		if filter.match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

// Len returns the number of stored records.
func (b *InMemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
