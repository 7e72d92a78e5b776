package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// maxConcurrentListings caps how many sources are listed at once.
const maxConcurrentListings = 8

// ErrUnknownSource is returned when an operation names a source that is not
// registered.
var ErrUnknownSource = errors.New("unknown source")

// RegisterSource adds a source. The manager owns it from now on and closes
// it on UnregisterSource or Close. Registering does not contact the source.
func (m *Manager) RegisterSource(src source.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	if err := m.sources.Register(src); err != nil {
		return err
	}
	m.logger.Info("source registered", "source", src.Name(), "types", src.SupportedTypes().String())
	return nil
}

// UnregisterSource removes and closes the named source and drops its
// cached listings.
func (m *Manager) UnregisterSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources.Unregister(name)
	if !ok {
		return fmt.Errorf("unregister source %q: %w", name, ErrUnknownSource)
	}
	for key := range m.cache {
		if key.source == name {
			delete(m.cache, key)
		}
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("unregister source %s: %w", name, err)
	}
	return nil
}

// SourceInfo describes one registered source.
type SourceInfo struct {
	Name   string
	Types  source.TypeSet
	Status source.ConnStatus
}

// Sources lists registered sources ordered by name.
func (m *Manager) Sources() []SourceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SourceInfo
	for _, src := range m.sources.List() {
		out = append(out, SourceInfo{Name: src.Name(), Types: src.SupportedTypes(), Status: src.Status()})
	}
	return out
}

// ConnectSource connects the named source within the remote timeout.
func (m *Manager) ConnectSource(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.source(name)
	if err != nil {
		return err
	}
	return m.remote(ctx, src, "connect", nil, func(ctx context.Context) error {
		return src.Connect(ctx)
	})
}

func (m *Manager) source(name string) (source.Source, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	src, ok := m.sources.Get(name)
	if !ok {
		return nil, fmt.Errorf("source %q: %w", name, ErrUnknownSource)
	}
	return src, nil
}

// remote runs fn with the remote timeout inside a span and records its
// outcome. A call cut short by the timeout or by cancellation fails with
// ConnectionFailure.
func (m *Manager) remote(ctx context.Context, src source.Source, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()

	attrs = append(attrs, attribute.String("source", src.Name()))
	ctx, span := m.tracer.Start(ctx, "source."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	var se *slot.Error
	if err != nil && !errors.As(err, &se) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = slot.NewConnectionFailure("source."+op, src.Name(), err)
	}
	m.metrics.ObserveRemote(src.Name(), op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Slot is one catalog entry returned by GetSlots.
type Slot struct {
	// Info is the local record if one exists, otherwise the record of the
	// first source, by name, holding the slot.
	Info slot.Info

	// Status folds the per-source statuses with slot.Summarize.
	Status slot.SyncStatus

	// Sources holds the status against each consulted source that knows
	// the slot or was expected to. Sources not supporting the slot's type
	// are absent.
	Sources map[string]slot.SyncStatus

	// Store is the path of the owning local store, empty for slots held
	// only remotely.
	Store string
}

// Local reports whether a local store holds the slot.
func (s *Slot) Local() bool {
	return s.Store != ""
}

type getOptions struct {
	rescan    bool
	fromCache bool
	sources   map[string]bool
}

// GetOption configures GetSlots.
type GetOption func(*getOptions)

// WithoutRescan skips rescanning the roots before listing.
func WithoutRescan() GetOption {
	return func(o *getOptions) { o.rescan = false }
}

// FromCache classifies against the listings of the previous successful
// query of each source instead of contacting it. A source never queried
// reports NotChecked.
func FromCache() GetOption {
	return func(o *getOptions) { o.fromCache = true }
}

// WithSource restricts the consulted sources to the named ones. It may be
// given more than once. Naming an unregistered source fails GetSlots with
// ErrUnknownSource.
func WithSource(names ...string) GetOption {
	return func(o *getOptions) {
		if o.sources == nil {
			o.sources = make(map[string]bool)
		}
		for _, n := range names {
			o.sources[n] = true
		}
	}
}

// listing is the outcome of listing one source. Slots in unreadable exist
// on the source but their records could not be decoded.
type listing struct {
	source     string
	slots      map[slot.ID]slot.Info
	unreadable map[slot.ID]bool
	err        error
}

// GetSlots returns every slot of typ known locally or to a consulted
// source, with its sync status against each source.
//
// Sources are listed concurrently, each within the remote timeout. A
// source whose listing fails reports NotChecked for every slot and its
// cached listing is dropped. A slot whose record on a source is malformed
// reports NotChecked against that source. Slots held only remotely are
// returned with an empty Store.
func (m *Manager) GetSlots(ctx context.Context, typ slot.Type, opts ...GetOption) (map[slot.ID]*Slot, error) {
	o := getOptions{rescan: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("get slots: invalid slot type %d", uint8(typ))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	for name := range o.sources {
		if _, ok := m.sources.Get(name); !ok {
			return nil, fmt.Errorf("get slots: source %q: %w", name, ErrUnknownSource)
		}
	}

	if o.rescan {
		if _, err := m.rescan(ctx); err != nil {
			return nil, err
		}
	} else if err := m.ensureScanned(ctx); err != nil {
		return nil, err
	}

	local, err := m.localSlots(ctx, typ)
	if err != nil {
		return nil, err
	}

	var consulted []source.Source
	for _, src := range m.sources.List() {
		if o.sources != nil && !o.sources[src.Name()] {
			continue
		}
		if !src.SupportedTypes().Has(typ) {
			continue
		}
		consulted = append(consulted, src)
	}

	listings := m.listSources(ctx, consulted, typ, o.fromCache)
	return m.classify(typ, local, consulted, listings), nil
}

// listSources lists every source concurrently or reads the cache.
func (m *Manager) listSources(ctx context.Context, sources []source.Source, typ slot.Type, fromCache bool) map[string]listing {
	out := make(map[string]listing, len(sources))

	if fromCache {
		for _, src := range sources {
			l, ok := m.cache[cacheKey{src.Name(), typ}]
			if !ok {
				l = listing{source: src.Name(), err: fmt.Errorf("source %s not queried yet", src.Name())}
			}
			out[src.Name()] = l
		}
		return out
	}

	p := pool.NewWithResults[listing]().WithMaxGoroutines(maxConcurrentListings)
	for _, src := range sources {
		p.Go(func() listing {
			l := listing{source: src.Name()}
			l.err = m.remote(ctx, src, "list", []attribute.KeyValue{attribute.String("slot.type", typ.String())},
				func(ctx context.Context) error {
					slots, err := src.ListMetadata(ctx, typ)
					if ue, ok := source.AsUnreadable(err); ok {
						m.logger.Warn("source returned unreadable records",
							"source", src.Name(), "type", typ, "count", len(ue.Errs), "error", ue)
						l.unreadable = make(map[slot.ID]bool, len(ue.IDs))
						for _, id := range ue.IDs {
							l.unreadable[id] = true
						}
						err = nil
					}
					l.slots = slots
					return err
				})
			return l
		})
	}

	for _, l := range p.Wait() {
		key := cacheKey{l.source, typ}
		if l.err != nil {
			m.logger.Warn("source listing failed", "source", l.source, "type", typ, "error", l.err)
			delete(m.cache, key)
		} else {
			m.cache[key] = l
		}
		out[l.source] = l
	}
	return out
}

// classify builds the catalog from local slots and source listings.
func (m *Manager) classify(typ slot.Type, local map[slot.ID]localSlot, sources []source.Source, listings map[string]listing) map[slot.ID]*Slot {
	ids := make(map[slot.ID]bool, len(local))
	for id := range local {
		ids[id] = true
	}
	for _, l := range listings {
		for id := range l.slots {
			ids[id] = true
		}
	}

	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	sort.Strings(names)

	counts := make(map[slot.SyncStatus]int)
	out := make(map[slot.ID]*Slot, len(ids))
	for id := range ids {
		entry := &Slot{Sources: make(map[string]slot.SyncStatus, len(names))}

		var localInfo *slot.Info
		if ls, ok := local[id]; ok {
			info := ls.info
			localInfo = &info
			entry.Info = info
			entry.Store = ls.store
		}

		statuses := make([]slot.SyncStatus, 0, len(names))
		for _, name := range names {
			l := listings[name]
			if l.err != nil || l.unreadable[id] {
				entry.Sources[name] = slot.NotChecked
				statuses = append(statuses, slot.NotChecked)
				continue
			}

			var remoteInfo *slot.Info
			if info, ok := l.slots[id]; ok {
				remoteInfo = &info
				if localInfo == nil && entry.Info.ID != id {
					entry.Info = info
				}
			}
			if localInfo == nil && remoteInfo == nil {
				continue
			}

			st := slot.Classify(localInfo, remoteInfo)
			if st == slot.Conflict {
				m.logger.Warn("slot conflict: contents differ with equal timestamps",
					"id", id, "source", name, "modified", localInfo.ModifiedUnix())
			}
			entry.Sources[name] = st
			statuses = append(statuses, st)
		}

		entry.Status = slot.Summarize(statuses...)
		counts[entry.Status]++
		out[id] = entry
	}

	m.metrics.ObserveStatuses(typ, counts)
	return out
}
