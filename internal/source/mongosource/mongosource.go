// Package mongosource is the reference remote Source: one MongoDB
// collection holding one document per slot.
//
// Documents are keyed by the 16-byte binary slot ID. Listings request a
// projection without the payload field. Every request runs on the source's
// own Dispatcher, so one connection never has two requests in flight.
//
// The connection is owned by the Source and released by Close; there is no
// shared process-wide client.
package mongosource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
)

// Defaults applied to empty Config fields.
const (
	DefaultURI        = "mongodb://localhost:27017"
	DefaultDatabase   = "sodasim"
	DefaultCollection = "files"
)

const disconnectTimeout = 5 * time.Second

// Config describes one MongoDB source.
type Config struct {
	Name       string
	URI        string
	Database   string
	Collection string
	Types      source.TypeSet
	Logger     *slog.Logger
}

// Source is a MongoDB-backed source.
type Source struct {
	cfg        Config
	dispatcher *source.Dispatcher
	logger     *slog.Logger

	mu     sync.Mutex
	status source.ConnStatus
	client *mongo.Client
	coll   *mongo.Collection
}

var _ source.Source = (*Source)(nil)

// New creates a disconnected source. No network I/O happens until Connect
// or the first operation.
func New(cfg Config) (*Source, error) {
	if cfg.Name == "" {
		return nil, errors.New("mongosource: name is required")
	}
	if cfg.URI == "" {
		cfg.URI = DefaultURI
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Types == 0 {
		cfg.Types = source.AllTypes
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
	return s.status
}

func (s *Source) setStatus(st source.ConnStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Source) Connect(ctx context.Context) error {
	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		_, err := s.collection(ctx)
		return err
	})
}

// collection returns the connected collection, connecting first if needed.
// Runs on the dispatcher.
func (s *Source) collection(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	coll := s.coll
	s.mu.Unlock()
	if coll != nil {
		return coll, nil
	}

	s.setStatus(source.Connecting)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.cfg.URI))
	if err != nil {
		s.setStatus(source.Failed)
		return nil, slot.NewConnectionFailure("mongo.connect", s.cfg.Name, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		s.setStatus(source.Failed)
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
		return nil, slot.NewConnectionFailure("mongo.connect", s.cfg.Name, err)
	}

	coll = client.Database(s.cfg.Database).Collection(s.cfg.Collection)

	s.mu.Lock()
	s.client = client
	s.coll = coll
	s.status = source.Connected
	s.mu.Unlock()

	s.logger.Info("connected", "database", s.cfg.Database, "collection", s.cfg.Collection)
	return coll, nil
}

// failure wraps a driver error and marks the connection failed when the
// error is network-level.
func (s *Source) failure(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		s.setStatus(source.Failed)
	}
	return slot.NewConnectionFailure(op, s.cfg.Name, err)
}

func (s *Source) ListMetadata(ctx context.Context, typ slot.Type) (map[slot.ID]slot.Info, error) {
	if err := source.CheckType(s, "mongo.list", typ); err != nil {
		return nil, err
	}

	return source.Call(s.dispatcher, ctx, func(ctx context.Context) (map[slot.ID]slot.Info, error) {
		coll, err := s.collection(ctx)
		if err != nil {
			return nil, err
		}

		cursor, err := coll.Find(ctx,
			bson.D{{Key: fieldType, Value: int32(typ)}},
			options.Find().SetProjection(metadataProjection))
		if err != nil {
			return nil, s.failure("mongo.list", err)
		}
		defer cursor.Close(ctx)

		c := newListCollector(s.cfg.Name)
		for cursor.Next(ctx) {
			c.add(cursor.Current)
		}
		if err := cursor.Err(); err != nil {
			return nil, s.failure("mongo.list", err)
		}

		// Legacy documents carry an MD5 digest; their content hash needs
		// the payload.
		for _, id := range c.legacy {
			raw, err := coll.FindOne(ctx, idFilter(id)).Raw()
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue
			}
			if err != nil {
				return nil, s.failure("mongo.list", err)
			}
			c.addLegacy(id, raw)
		}

		s.logger.Debug("listed slots", "type", typ, "count", len(c.slots),
			"legacy", len(c.legacy), "unreadable", len(c.unreadable.Errs))
		return c.slots, c.unreadable.Err()
	})
}

type pulled struct {
	info    slot.Info
	payload []byte
}

func (s *Source) Pull(ctx context.Context, id slot.ID) (slot.Info, []byte, error) {
	p, err := source.Call(s.dispatcher, ctx, func(ctx context.Context) (pulled, error) {
		coll, err := s.collection(ctx)
		if err != nil {
			return pulled{}, err
		}

		raw, err := coll.FindOne(ctx, idFilter(id)).Raw()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return pulled{}, slot.NewNotFound("mongo.pull", s.cfg.Name, id)
		}
		if err != nil {
			return pulled{}, s.failure("mongo.pull", err)
		}

		info, payload, err := decodeDocument(raw, true)
		if err != nil {
			return pulled{}, slot.NewSerialization("mongo.pull", s.cfg.Name, id, err)
		}
		return pulled{info: info, payload: payload}, nil
	})
	if err != nil {
		return slot.Info{}, nil, err
	}
	return p.info, p.payload, nil
}

func (s *Source) Push(ctx context.Context, info slot.Info, payload []byte) error {
	if err := source.CheckType(s, "mongo.push", info.Type); err != nil {
		return err
	}
	if !info.HasID() {
		return fmt.Errorf("mongo.push: slot has no id")
	}
	doc := newDocument(info, payload)

	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		coll, err := s.collection(ctx)
		if err != nil {
			return err
		}

		_, err = coll.ReplaceOne(ctx, idFilter(info.ID), doc, options.Replace().SetUpsert(true))
		if err != nil {
			return s.failure("mongo.push", err)
		}
		s.logger.Debug("pushed slot", "id", info.ID, "size", len(payload))
		return nil
	})
}

func (s *Source) Delete(ctx context.Context, id slot.ID) error {
	return source.Do(s.dispatcher, ctx, func(ctx context.Context) error {
		coll, err := s.collection(ctx)
		if err != nil {
			return err
		}

		res, err := coll.DeleteOne(ctx, idFilter(id))
		if err != nil {
			return s.failure("mongo.delete", err)
		}
		s.logger.Debug("deleted slot", "id", id, "deleted", res.DeletedCount)
		return nil
	})
}

// Close stops the dispatcher and disconnects the client.
func (s *Source) Close() error {
	s.dispatcher.Close()

	s.mu.Lock()
	client := s.client
	s.client, s.coll = nil, nil
	s.status = source.Disconnected
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo.close: %w", err)
	}
	return nil
}
