package stage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"pipekit/internal/record"
)

// Dedupe policies.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DedupeSpec configures a Dedupe stage.
type DedupeSpec struct {
	// Keys are the field names that form the business key.
	Keys []string

	// Policy selects the winner among duplicates: "keep-first", "keep-last"
	// or "most-complete" (default "keep-last").
	Policy string

	// PreferFields weigh more heavily in "most-complete" selection: a
	// present, non-empty value in one of them adds a bonus. Ties still break
	// by keep-last.
	PreferFields []string
}

// Dedupe collapses records sharing the same key values and keeps one winner
// per key according to its policy.
//
// Keys are compared as tagged values, so the int 1 and the string "1" are
// different keys. Key values are hashed with xxh3; colliding hashes are
// told apart by value equality. Winners are emitted in the input order of
// the winning record, followed by the records that lacked a key field, in
// their original order.
type Dedupe struct {
	name   string
	keys   []string
	policy string
	prefer map[string]struct{}

	mu          sync.Mutex
	buckets     map[uint64][]int
	slots       []dedupeSlot
	passthrough []record.Record
	seen        int64
	dropped     int64
}

type dedupeSlot struct {
	key   []record.Value
	rec   record.Record
	index int64
	score int
}

// NewDedupe validates spec.
func NewDedupe(name string, spec DedupeSpec) (*Dedupe, error) {
	if len(spec.Keys) == 0 {
		return nil, fmt.Errorf("dedupe: at least one key field is required")
	}
	policy := strings.ToLower(strings.TrimSpace(spec.Policy))
	switch policy {
	case "":
		policy = KeepLast
	case KeepFirst, KeepLast, MostComplete:
	default:
		return nil, fmt.Errorf("dedupe: unknown policy %q", spec.Policy)
	}
	if name == "" {
		name = "dedupe"
	}
	prefer := make(map[string]struct{}, len(spec.PreferFields))
	for _, f := range spec.PreferFields {
		prefer[f] = struct{}{}
	}
	return &Dedupe{
		name:    name,
		keys:    slices.Clone(spec.Keys),
		policy:  policy,
		prefer:  prefer,
		buckets: make(map[uint64][]int),
	}, nil
}

func (d *Dedupe) Name() string { return d.name }
func (d *Dedupe) Mode() Mode   { return Barrier }

// Policy returns the effective policy name.
func (d *Dedupe) Policy() string { return d.policy }

func (d *Dedupe) Process(_ context.Context, r record.Record) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	index := d.seen
	d.seen++

	key, ok := d.keyOf(r)
	if !ok {
		d.passthrough = append(d.passthrough, r)
		return Emit()
	}
	h := hashKey(key)
	for _, si := range d.buckets[h] {
		s := &d.slots[si]
		if !equalKeys(s.key, key) {
			continue
		}
		d.dropped++
		switch d.policy {
		case KeepFirst:
		case MostComplete:
			if score := d.scoreOf(r); score >= s.score {
				s.rec, s.index, s.score = r, index, score
			}
		default:
			s.rec, s.index = r, index
		}
		return Emit()
	}

	slot := dedupeSlot{key: key, rec: r, index: index}
	if d.policy == MostComplete {
		slot.score = d.scoreOf(r)
	}
	d.slots = append(d.slots, slot)
	d.buckets[h] = append(d.buckets[h], len(d.slots)-1)
	return Emit()
}

// Flush emits winners by input position, then the unkeyed records.
func (d *Dedupe) Flush(ctx context.Context, emit func(record.Record) error) error {
	d.mu.Lock()
	slots := d.slots
	passthrough := d.passthrough
	d.mu.Unlock()

	slices.SortFunc(slots, func(a, b dedupeSlot) int {
		switch {
		case a.index < b.index:
			return -1
		case a.index > b.index:
			return 1
		}
		return 0
	})
	for _, s := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(s.rec); err != nil {
			return err
		}
	}
	for _, r := range passthrough {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

// Dropped reports how many duplicates lost to a winner.
func (d *Dedupe) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close releases the buffered records.
func (d *Dedupe) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots, d.passthrough, d.buckets = nil, nil, nil
	return nil
}

func (d *Dedupe) keyOf(r record.Record) ([]record.Value, bool) {
	key := make([]record.Value, len(d.keys))
	for i, k := range d.keys {
		v, ok := r.Lookup(k)
		if !ok {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

// scoreOf counts non-empty values; PreferFields add a bonus. The base count
// is scaled so that a preferred field only breaks ties between records with
// the same number of filled fields.
func (d *Dedupe) scoreOf(r record.Record) int {
	score, bonus := 0, 0
	for i := 0; i < r.Len(); i++ {
		f := r.Field(i)
		if f.Value.IsNull() {
			continue
		}
		if s, ok := f.Value.AsString(); ok && s == "" {
			continue
		}
		score++
		if _, ok := d.prefer[f.Name]; ok {
			bonus++
		}
	}
	return score*10 + bonus
}

func hashKey(key []record.Value) uint64 {
	h := xxh3.New()
	var tag [1]byte
	for _, v := range key {
		tag[0] = byte(v.Kind())
		_, _ = h.Write(tag[:])
		_, _ = h.WriteString(v.String())
		_, _ = h.Write([]byte{0x1f})
	}
	return h.Sum64()
}

func equalKeys(a, b []record.Value) bool {
	for i := range a {
		if a[i].Kind() != b[i].Kind() || !record.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
