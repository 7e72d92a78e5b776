// Package memsource is an in-process Source backed by a map.
//
// It behaves like a remote source at the contract level: timestamps are
// kept at whole-second resolution and operations fail with
// ConnectionFailure while the source is set offline. It serves tests and
// the "memory" source kind.
package memsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// ErrOffline is the cause of every failure while the source is offline.
var ErrOffline = errors.New("source offline")

type record struct {
	info    slot.Info
	payload []byte
}

// Source is an in-memory source.
type Source struct {
	name  string
	types source.TypeSet

	mu      sync.Mutex
	status  source.ConnStatus
	offline bool
	records map[slot.ID]record
	calls   map[string]int
}

var _ source.Source = (*Source)(nil)

// New creates an empty, disconnected source supporting types.
func New(name string, types source.TypeSet) *Source {
	return &Source{
		name:    name,
		types:   types,
		records: make(map[slot.ID]record),
		calls:   make(map[string]int),
	}
}

func (s *Source) Name() string                   { return s.name }
func (s *Source) SupportedTypes() source.TypeSet { return s.types }

func (s *Source) Status() source.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetOffline makes every subsequent operation fail with ConnectionFailure
// until called again with false.
func (s *Source) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
	if offline {
		s.status = source.Failed
	}
}

// Calls returns how many times op was invoked. Ops are "list", "pull",
// "push" and "delete".
func (s *Source) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Put stores a record directly, bypassing the offline switch, and keeps
// info.LastModified and info.Hash exactly as given apart from truncation
// to whole seconds.
func (s *Source) Put(info slot.Info, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[info.ID] = newRecord(info, payload)
}

func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, "memory.connect")
}

// connectLocked must be called with s.mu held.
func (s *Source) connectLocked(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return slot.NewConnectionFailure(op, s.name, err)
	}
	if s.offline {
		s.status = source.Failed
		return slot.NewConnectionFailure(op, s.name, ErrOffline)
	}
	s.status = source.Connected
	return nil
}

func (s *Source) ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list"]++

	if err := s.connectLocked(ctx, "memory.list"); err != nil {
		return nil, err
	}
	if err := source.CheckType(s, "memory.list", typ); err != nil {
		return nil, err
	}

	out := make(map[slot.ID]slot.Info)
	for id, r := range s.records {
		if r.info.Type == typ {
			out[id] = r.info
		}
	}
	return out, nil
}

func (s *Source) Pull(ctx context.Context, id slot.ID) (slot.Info, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["pull"]++

	if err := s.connectLocked(ctx, "memory.pull"); err != nil {
		return slot.Info{}, nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return slot.Info{}, nil, slot.NewNotFound("memory.pull", s.name, id)
	}
	return r.info, append([]byte{}, r.payload...), nil
}

func (s *Source) Push(ctx context.Context, info slot.Info, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["push"]++

	if err := s.connectLocked(ctx, "memory.push"); err != nil {
		return err
	}
	if err := source.CheckType(s, "memory.push", info.Type); err != nil {
		return err
	}
	s.records[info.ID] = newRecord(info, payload)
	return nil
}

func (s *Source) Delete(ctx context.Context, id slot.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["delete"]++

	if err := s.connectLocked(ctx, "memory.delete"); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = source.Disconnected
	return nil
}

func newRecord(info slot.Info, payload []byte) record {
	info.LastModified = time.Unix(info.ModifiedUnix(), 0).UTC()
	return record{info: info, payload: append([]byte{}, payload...)}
}
