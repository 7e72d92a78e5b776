// Package natssource stores slots in NATS JetStream: metadata in a
// key-value bucket and payloads in an object store bucket of the same name.
//
// A push writes the payload object first and the metadata entry second, so
// metadata never points at a payload that is not there. Listings read only
// the key-value bucket.
package natssource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// Defaults applied to empty Config fields.
const (
	DefaultURL    = nats.DefaultURL
	DefaultBucket = "slots"
)

// Config describes one JetStream source.
type Config struct {
	Name   string
	URL    string
	Bucket string
	Types  source.TypeSet
	Logger *slog.Logger

	// ConnectTimeout bounds the initial dial. Defaults to 5s.
	ConnectTimeout time.Duration
}

// Source is a JetStream-backed source.
type Source struct {
	cfg        Config
	dispatcher *source.Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	status  source.ConnStatus
	conn    *nats.Conn
	kv      jetstream.KeyValue
	objects jetstream.ObjectStore
}

var _ source.Source = (*Source)(nil)

// New creates a disconnected source.
func New(cfg Config) (*Source, error) {
	if cfg.Name == "" {
		return nil, errors.New("natssource: name is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Types == 0 {
		cfg.Types = source.AllTypes
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		cfg:        cfg,
		dispatcher: source.NewDispatcher(),
		logger:     logger.With("source", cfg.Name),
	}, nil
}

func (s *Source) Name() string                   { return s.cfg.Name }
func (s *Source) SupportedTypes() source.TypeSet { return s.cfg.Types }

func (s *Source) Status() source.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == source.Connected && s.conn != nil && !s.conn.IsConnected() {
		return source.Failed
	}
	return s.status
}

func (s *Source) setStatus(st source.ConnStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Source) Connect(ctx context.Context) error {
	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		_, _, err := s.buckets(ctx)
		return err
	})
}

// buckets returns the bound buckets, connecting and creating them if
// needed. Runs on the dispatcher.
func (s *Source) buckets(ctx context.Context) (jetstream.KeyValue, jetstream.ObjectStore, error) {
	s.mu.Lock()
	kv, objects := s.kv, s.objects
	s.mu.Unlock()
	if kv != nil && objects != nil {
		return kv, objects, nil
	}

	s.setStatus(source.Connecting)
	fail := func(err error) (jetstream.KeyValue, jetstream.ObjectStore, error) {
		s.setStatus(source.Failed)
		return nil, nil, slot.NewConnectionFailure("nats.connect", s.cfg.Name, err)
	}

	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("slotdb-"+s.cfg.Name),
		nats.Timeout(s.cfg.ConnectTimeout),
	)
	if err != nil {
		return fail(err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fail(fmt.Errorf("jetstream: %w", err))
	}

	kv, err = js.KeyValue(ctx, s.cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      s.cfg.Bucket,
			Description: "slot metadata",
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return fail(fmt.Errorf("key-value bucket %s: %w", s.cfg.Bucket, err))
	}

	objects, err = js.ObjectStore(ctx, s.cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		objects, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      s.cfg.Bucket,
			Description: "slot payloads",
		})
	}
	if err != nil {
		nc.Close()
		return fail(fmt.Errorf("object bucket %s: %w", s.cfg.Bucket, err))
	}

	s.mu.Lock()
	s.conn, s.kv, s.objects = nc, kv, objects
	s.status = source.Connected
	s.mu.Unlock()

	s.logger.Info("connected", "url", nc.ConnectedUrlRedacted(), "bucket", s.cfg.Bucket)
	return kv, objects, nil
}

func (s *Source) ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error) {
	if err := source.CheckType(s, "nats.list", typ); err != nil {
		return nil, err
	}

	return source.Call(s.dispatcher, ctx, func(ctx context.Context) (map[slot.ID]slot.Info, error) {
		kv, _, err := s.buckets(ctx)
		if err != nil {
			return nil, err
		}

		watcher, err := kv.Watch(ctx, typeFilter(typ), jetstream.IgnoreDeletes())
		if err != nil {
			return nil, slot.NewConnectionFailure("nats.list", s.cfg.Name, err)
		}
		defer watcher.Stop()

		out := make(map[slot.ID]slot.Info)
		unreadable := &source.UnreadableError{Source: s.cfg.Name}
		for {
			select {
			case <-ctx.Done():
				return nil, slot.NewConnectionFailure("nats.list", s.cfg.Name, ctx.Err())
			case entry, ok := <-watcher.Updates():
				if !ok {
					return nil, slot.NewConnectionFailure("nats.list", s.cfg.Name, errors.New("watcher closed"))
				}
				// A nil entry marks the end of the initial values.
				if entry == nil {
					s.logger.Debug("listed slots", "type", typ, "count", len(out),
						"unreadable", len(unreadable.Errs))
					return out, unreadable.Err()
				}
				info, err := decodeRecord(entry.Key(), entry.Value())
				if err != nil {
					unreadable.Add(info.ID, err)
					continue
				}
				out[info.ID] = info
			}
		}
	})
}

// find locates a slot's metadata entry among the supported types.
func (s *Source) find(ctx context.Context, kv jetstream.KeyValue, id slot.ID) (jetstream.KeyValueEntry, error) {
	for _, typ := range s.cfg.Types.Types() {
		entry, err := kv.Get(ctx, slotKey(typ, id))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
	return nil, jetstream.ErrKeyNotFound
}

type pulled struct {
	info    slot.Info
	payload []byte
}

func (s *Source) Pull(ctx context.Context, id slot.ID) (slot.Info, []byte, error) {
	p, err := source.Call(s.dispatcher, ctx, func(ctx context.Context) (pulled, error) {
		kv, objects, err := s.buckets(ctx)
		if err != nil {
			return pulled{}, err
		}

		entry, err := s.find(ctx, kv, id)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return pulled{}, slot.NewNotFound("nats.pull", s.cfg.Name, id)
		}
		if err != nil {
			return pulled{}, slot.NewConnectionFailure("nats.pull", s.cfg.Name, err)
		}

		info, err := decodeRecord(entry.Key(), entry.Value())
		if err != nil {
			return pulled{}, slot.NewSerialization("nats.pull", s.cfg.Name, id, err)
		}

		payload, err := objects.GetBytes(ctx, objectName(id, info.Hash))
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return pulled{}, slot.NewSerialization("nats.pull", s.cfg.Name, id,
				fmt.Errorf("payload object %s missing", objectName(id, info.Hash)))
		}
		if err != nil {
			return pulled{}, slot.NewConnectionFailure("nats.pull", s.cfg.Name, err)
		}
		if payload == nil {
			payload = []byte{}
		}
		return pulled{info: info, payload: payload}, nil
	})
	if err != nil {
		return slot.Info{}, nil, err
	}
	return p.info, p.payload, nil
}

func (s *Source) Push(ctx context.Context, info slot.Info, payload []byte) error {
	if err := source.CheckType(s, "nats.push", info.Type); err != nil {
		return err
	}
	if !info.HasID() {
		return fmt.Errorf("nats.push: slot has no id")
	}
	value, err := encodeRecord(info, len(payload))
	if err != nil {
		return slot.NewSerialization("nats.push", s.cfg.Name, info.ID, err)
	}

	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		kv, objects, err := s.buckets(ctx)
		if err != nil {
			return err
		}

		previous, err := s.find(ctx, kv, info.ID)
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return slot.NewConnectionFailure("nats.push", s.cfg.Name, err)
		}

		name := objectName(info.ID, info.Hash)
		if _, err := objects.PutBytes(ctx, name, payload); err != nil {
			return slot.NewConnectionFailure("nats.push", s.cfg.Name, fmt.Errorf("put payload: %w", err))
		}
		key := slotKey(info.Type, info.ID)
		if _, err := kv.Put(ctx, key, value); err != nil {
			return slot.NewConnectionFailure("nats.push", s.cfg.Name, fmt.Errorf("put metadata: %w", err))
		}

		if previous != nil {
			s.dropPrevious(ctx, kv, objects, previous, key, name)
		}
		s.logger.Debug("pushed slot", "id", info.ID, "size", len(payload))
		return nil
	})
}

// dropPrevious removes what a replaced version left behind: a metadata key
// under another type and a payload object under another hash. Failures
// only leave garbage and are logged.
func (s *Source) dropPrevious(ctx context.Context, kv jetstream.KeyValue, objects jetstream.ObjectStore, previous jetstream.KeyValueEntry, key, name string) {
	if previous.Key() != key {
		if err := kv.Delete(ctx, previous.Key()); err != nil {
			s.logger.Warn("failed to drop stale metadata", "key", previous.Key(), "error", err)
		}
	}
	old, err := decodeRecord(previous.Key(), previous.Value())
	if err != nil {
		return
	}
	if oldName := objectName(old.ID, old.Hash); oldName != name {
		if err := objects.Delete(ctx, oldName); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
			s.logger.Warn("failed to drop stale payload", "object", oldName, "error", err)
		}
	}
}

func (s *Source) Delete(ctx context.Context, id slot.ID) error {
	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		kv, objects, err := s.buckets(ctx)
		if err != nil {
			return err
		}

		entry, err := s.find(ctx, kv, id)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return slot.NewConnectionFailure("nats.delete", s.cfg.Name, err)
		}

		if err := kv.Delete(ctx, entry.Key()); err != nil {
			return slot.NewConnectionFailure("nats.delete", s.cfg.Name, err)
		}
		if info, err := decodeRecord(entry.Key(), entry.Value()); err == nil {
			name := objectName(id, info.Hash)
			if err := objects.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
				s.logger.Warn("failed to drop payload", "object", name, "error", err)
			}
		}
		s.logger.Debug("deleted slot", "id", id)
		return nil
	})
}

// Close stops the dispatcher and drains the connection.
func (s *Source) Close() error {
	s.dispatcher.Close()

	s.mu.Lock()
	conn := s.conn
	s.conn, s.kv, s.objects = nil, nil, nil
	s.status = source.Disconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("nats.close: %w", err)
	}
	return nil
}
