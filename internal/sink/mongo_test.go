package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pipekit/internal/ctxlog"
	"pipekit/internal/record"
)

type fakeColl struct {
	calls [][]any
	err   error
}

func (f *fakeColl) InsertMany(_ context.Context, docs any, _ ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	batch := append([]any(nil), docs.([]any)...)
	f.calls = append(f.calls, batch)
	ids := make([]any, len(batch))
	for i := range ids {
		ids[i] = bson.NewObjectID()
	}
	return &mongo.InsertManyResult{InsertedIDs: ids}, nil
}

func TestMongoSinkBatches(t *testing.T) {
	t.Parallel()

	coll := &fakeColl{}
	s := newMongo(coll, MongoOptions{BatchSize: 2}, ctxlog.Discard())
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, s.Write(ctx, record.MustNew(record.F("i", record.Int(int64(i))))))
	}
	require.Len(t, coll.calls, 1)
	require.Equal(t, 1, s.Uncommitted())
	require.NoError(t, s.Flush(ctx))
	require.Len(t, coll.calls, 2)
	require.Zero(t, s.Uncommitted())
	require.NoError(t, s.Close())
}

func TestMongoSinkFailureKeepsBatch(t *testing.T) {
	t.Parallel()

	coll := &fakeColl{err: errors.New("not primary")}
	s := newMongo(coll, MongoOptions{BatchSize: 10}, ctxlog.Discard())
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, record.MustNew(record.F("a", record.Int(1)))))
	require.ErrorContains(t, s.Flush(ctx), "not primary")
	require.Equal(t, 1, s.Uncommitted())
}

func TestToBSONPreservesShape(t *testing.T) {
	t.Parallel()

	inner := record.MustNew(record.F("z", record.Null()), record.F("a", record.Bool(true)))
	r := record.MustNew(
		record.F("s", record.String("x")),
		record.F("n", record.Int(4)),
		record.F("f", record.Float(0.5)),
		record.F("l", record.List(record.Int(1), record.Nested(inner))),
	)
	want := bson.D{
		{Key: "s", Value: "x"},
		{Key: "n", Value: int64(4)},
		{Key: "f", Value: 0.5},
		{Key: "l", Value: bson.A{int64(1), bson.D{{Key: "z", Value: nil}, {Key: "a", Value: true}}}},
	}
	require.Equal(t, want, toBSON(r))
}

func TestOpenMongoValidates(t *testing.T) {
	t.Parallel()

	_, err := OpenMongo(context.Background(), MongoOptions{Database: "d", Collection: "c"}, nil)
	require.ErrorContains(t, err, "uri")
	_, err = OpenMongo(context.Background(), MongoOptions{URI: "mongodb://localhost"}, nil)
	require.ErrorContains(t, err, "database and collection")
}
