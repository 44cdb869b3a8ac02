package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipekit/internal/record"
)

// MongoOptions configures the MongoDB sink.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	BatchSize  int
	// Unordered lets the server continue past a failed document in a batch.
	Unordered bool
}

// inserter is the part of *mongo.Collection the sink uses.
type inserter interface {
	InsertMany(ctx context.Context, documents any, opts ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error)
}

// MongoSink inserts records as documents with InsertMany, one call per
// batch. Field order is preserved.
type MongoSink struct {
	coll      inserter
	batchSize int
	ordered   bool
	log       *slog.Logger
	closeFn   func(context.Context) error

	batch []any
	total int64
}

// OpenMongo connects, pings the primary and returns a sink on the target
// collection.
func OpenMongo(ctx context.Context, opts MongoOptions, log *slog.Logger) (*MongoSink, error) {
	if strings.TrimSpace(opts.URI) == "" {
		return nil, fmt.Errorf("mongo sink: uri must not be empty")
	}
	if opts.Database == "" || opts.Collection == "" {
		return nil, fmt.Errorf("mongo sink: database and collection are required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := newMongo(client.Database(opts.Database).Collection(opts.Collection), opts, log)
	s.closeFn = client.Disconnect
	return s, nil
}

func newMongo(coll inserter, opts MongoOptions, log *slog.Logger) *MongoSink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &MongoSink{
		coll:      coll,
		batchSize: opts.BatchSize,
		ordered:   !opts.Unordered,
		log:       log,
		batch:     make([]any, 0, opts.BatchSize),
	}
}

func (s *MongoSink) Write(ctx context.Context, r record.Record) error {
	s.batch = append(s.batch, toBSON(r))
	if len(s.batch) >= s.batchSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush inserts the pending batch. On failure the batch stays pending, so
// documents an unordered insert did store may be counted as uncommitted.
func (s *MongoSink) Flush(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.coll.InsertMany(ctx, s.batch, options.InsertMany().SetOrdered(s.ordered))
	if err != nil {
		s.log.Warn("mongo sink: insert failed", "docs", len(s.batch), "total", s.total, "err", err)
		return fmt.Errorf("mongo insert: %w", err)
	}
	s.total += int64(len(res.InsertedIDs))
	s.log.Debug("mongo sink: batch inserted", "docs", len(res.InsertedIDs), "total", s.total)
	s.batch = s.batch[:0]
	return nil
}

// Uncommitted counts documents not yet acknowledged by the server.
func (s *MongoSink) Uncommitted() int { return len(s.batch) }

func (s *MongoSink) Close() error {
	if s.closeFn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.closeFn(ctx)
}

func toBSON(r record.Record) bson.D {
	d := make(bson.D, 0, r.Len())
	for _, f := range r.Fields() {
		d = append(d, bson.E{Key: f.Name, Value: bsonValue(f.Value)})
	}
	return d
}

func bsonValue(v record.Value) any {
	switch v.Kind() {
	case record.KindBool:
		b, _ := v.AsBool()
		return b
	case record.KindInt:
		n, _ := v.AsInt()
		return n
	case record.KindFloat:
		f, _ := v.AsFloat()
		return f
	case record.KindString:
		s, _ := v.AsString()
		return s
	case record.KindList:
		items, _ := v.AsList()
		a := make(bson.A, len(items))
		for i, it := range items {
			a[i] = bsonValue(it)
		}
		return a
	case record.KindRecord:
		r, _ := v.AsRecord()
		return toBSON(r)
	}
	return nil
}
