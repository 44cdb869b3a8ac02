package storage

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type fakeRepo struct {
	closed bool
}

func (f *fakeRepo) CopyFrom(_ context.Context, _ []string, rows [][]any) (int64, error) {
	return int64(len(rows)), nil
}
func (f *fakeRepo) Exec(context.Context, string) error { return nil }
func (f *fakeRepo) Close()                              { f.closed = true }

func TestFactoryRegistry(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var got Config
	Register("registry-ok", func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return &fakeRepo{}, nil
	})
	Register("registry-err", func(context.Context, Config) (Repository, error) { return nil, boom })

	cfg := Config{Kind: "registry-ok", DSN: "mem", Table: "main.events", Columns: []string{"id"}}
	repo, err := New(context.Background(), cfg)
	if err != nil || repo == nil {
		t.Fatalf("New(registry-ok) = %v, %v", repo, err)
	}
	if got.Table != "main.events" || got.DSN != "mem" || !slices.Equal(got.Columns, []string{"id"}) {
		t.Fatalf("factory saw %+v", got)
	}

	if _, err := New(context.Background(), Config{Kind: "registry-err"}); !errors.Is(err, boom) {
		t.Fatalf("factory error not propagated: %v", err)
	}
	_, err = New(context.Background(), Config{Kind: "registry-missing"})
	if err == nil || err.Error() != "unsupported storage.kind=registry-missing" {
		t.Fatalf("unknown kind error = %v", err)
	}

	kinds := ListKinds()
	if !slices.Contains(kinds, "registry-ok") || !slices.IsSorted(kinds) {
		t.Fatalf("ListKinds = %v", kinds)
	}
	kinds[0] = "mutated"
	if slices.Contains(ListKinds(), "mutated") {
		t.Fatal("ListKinds exposed the registry")
	}
}

func TestRegisterReplacesFactory(t *testing.T) {
	t.Parallel()

	var first, second *fakeRepo
	Register("registry-replace", func(context.Context, Config) (Repository, error) {
		first = &fakeRepo{}
		return first, nil
	})
	Register("registry-replace", func(context.Context, Config) (Repository, error) {
		second = &fakeRepo{}
		return second, nil
	})
	repo, err := New(context.Background(), Config{Kind: "registry-replace"})
	if err != nil {
		t.Fatal(err)
	}
	if first != nil || repo != Repository(second) {
		t.Fatal("the later registration should win")
	}
	repo.Close()
	if !second.closed {
		t.Fatal("Close not forwarded")
	}
}
