// Package spill is the per-run temporary chunk store used by barrier stages
// whose input outgrows memory.
//
// Every Store owns a fresh directory named after a random run id, so
// concurrent runs sharing a spill directory never see each other's files.
// A chunk is a sequence of frames; each frame carries a CBOR encoded batch
// of records, optionally compressed:
//
//	[codec u8][raw size uvarint][packed size uvarint][payload]
package spill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"pipekit/internal/errs"
)

// Options configures a Store.
type Options struct {
	// Dir is the parent directory; empty means os.TempDir().
	Dir string
	// Codec compresses frames.
	Codec Codec
	// FrameRecords caps the records per frame (default 512).
	FrameRecords int
	// MinFreeBytes refuses new chunks when the filesystem holding Dir has
	// less free space. Zero disables the check.
	MinFreeBytes uint64
	// Logger receives debug lines about chunk activity.
	Logger *slog.Logger
}

// Store manages the chunk files of one run.
type Store struct {
	id   string
	dir  string
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	seq    int
	closed bool
}

// Chunk describes a finished chunk file.
type Chunk struct {
	Name      string
	Records   int
	RawBytes  int64
	DiskBytes int64
}

// NewStore creates the run namespace under opts.Dir.
func NewStore(opts Options) (*Store, error) {
	if opts.FrameRecords <= 0 {
		opts.FrameRecords = 512
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	parent := opts.Dir
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &errs.IOError{Op: "spill", Err: err}
	}
	id := uuid.NewString()
	dir, err := os.MkdirTemp(parent, "pipekit-"+id+"-")
	if err != nil {
		return nil, &errs.IOError{Op: "spill", Err: err}
	}
	log.Debug("spill: namespace created", "dir", dir, "codec", opts.Codec.String())
	return &Store{id: id, dir: dir, opts: opts, log: log}, nil
}

// ID returns the run id embedded in the namespace directory name.
func (s *Store) ID() string { return s.id }

// Dir returns the namespace directory.
func (s *Store) Dir() string { return s.dir }

// Create starts a new chunk file.
func (s *Store) Create() (*Writer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &errs.IOError{Op: "spill", Err: os.ErrClosed}
	}
	s.seq++
	name := fmt.Sprintf("chunk-%06d.spill", s.seq)
	s.mu.Unlock()

	if min := s.opts.MinFreeBytes; min > 0 {
		free, err := freeBytes(s.dir)
		if err == nil && free < min {
			return nil, &errs.IOError{Op: "spill", Err: fmt.Errorf("only %s free in %s, need %s",
				humanize.IBytes(free), s.dir, humanize.IBytes(min))}
		}
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, &errs.IOError{Op: "spill", Err: err}
	}
	return newWriter(f, name, s.opts.Codec, s.opts.FrameRecords), nil
}

// Open reads back a chunk written by Create.
func (s *Store) Open(name string) (*Reader, error) {
	if filepath.Base(name) != name {
		return nil, &errs.IOError{Op: "spill", Err: fmt.Errorf("invalid chunk name %q", name)}
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, &errs.IOError{Op: "spill", Err: err}
	}
	return newReader(f, name), nil
}

// Remove deletes one chunk once it is no longer needed.
func (s *Store) Remove(name string) error {
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return &errs.IOError{Op: "spill", Err: err}
	}
	return nil
}

// Close removes the namespace and everything in it. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return &errs.IOError{Op: "spill", Err: err}
	}
	s.log.Debug("spill: namespace removed", "dir", s.dir)
	return nil
}
