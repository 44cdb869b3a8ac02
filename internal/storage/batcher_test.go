package storage

import (
	"context"
	"errors"
	"testing"

	"pipekit/internal/ctxlog"
)

// TestBatcher_Basic verifies rows are grouped into batches and the total is
// the sum of successful copies.
func TestBatcher_Basic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var sizes []int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		sizes = append(sizes, len(rows))
		return int64(len(rows)), nil
	}
	b, err := NewBatcher([]string{"c1", "c2"}, 3, copyFn, ctxlog.Discard())
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}
	for i := 0; i < 7; i++ {
		if err := b.Add(ctx, []any{i, "x"}); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if b.Pending() != 1 {
		t.Fatalf("pending %d, want 1", b.Pending())
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if b.Total() != 7 || b.Pending() != 0 {
		t.Fatalf("total %d pending %d, want 7 and 0", b.Total(), b.Pending())
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes %v, want [3 3 1]", sizes)
	}
}

// TestBatcher_FailedCopyStaysPending ensures a failed batch is neither
// counted nor dropped.
func TestBatcher_FailedCopyStaysPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wantErr := errors.New("copy failed")
	calls := 0
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		calls++
		if calls == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	}
	b, _ := NewBatcher([]string{"c"}, 2, copyFn, ctxlog.Discard())
	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = b.Add(ctx, []any{i})
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
	if b.Total() != 2 || b.Pending() != 2 {
		t.Fatalf("total %d pending %d, want 2 and 2", b.Total(), b.Pending())
	}
}

func TestBatcher_Validation(t *testing.T) {
	t.Parallel()

	ok := func(context.Context, []string, [][]any) (int64, error) { return 0, nil }
	if _, err := NewBatcher([]string{"c"}, 0, ok, nil); err == nil {
		t.Fatal("size 0: want error")
	}
	if _, err := NewBatcher([]string{"c"}, 1, nil, nil); err == nil {
		t.Fatal("nil copyFn: want error")
	}
	b, _ := NewBatcher([]string{"a", "b"}, 5, ok, nil)
	if err := b.Add(context.Background(), []any{1}); err == nil {
		t.Fatal("short row: want error")
	}
}

// TestBatcher_ContextCancel checks Flush refuses to copy after cancellation.
func TestBatcher_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	b, _ := NewBatcher([]string{"c"}, 10, func(context.Context, []string, [][]any) (int64, error) {
		called = true
		return 1, nil
	}, nil)
	if err := b.Add(ctx, []any{1}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := b.Flush(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Flush after cancel = %v, want context.Canceled", err)
	}
	if called || b.Pending() != 1 {
		t.Fatalf("copy called=%v pending=%d, want false and 1", called, b.Pending())
	}
}
