package spill

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

func sample(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.MustNew(
			record.F("i", record.Int(int64(i))),
			record.F("name", record.String(fmt.Sprintf("name-%d", i%7))),
			record.F("score", record.Float(float64(i)/3)),
			record.F("tags", record.List(record.String("x"), record.Null())),
		)
	}
	return out
}

func writeChunk(t *testing.T, s *Store, recs []record.Record) Chunk {
	t.Helper()
	w, err := s.Create()
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	return w.Info()
}

func readChunk(t *testing.T, s *Store, name string) []record.Record {
	t.Helper()
	rd, err := s.Open(name)
	require.NoError(t, err)
	defer rd.Close()
	var out []record.Record
	for {
		r, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, r)
	}
}

func TestRoundTripAllCodecs(t *testing.T) {
	in := sample(1300)
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			s, err := NewStore(Options{Dir: t.TempDir(), Codec: codec, FrameRecords: 100})
			require.NoError(t, err)
			defer s.Close()

			info := writeChunk(t, s, in)
			require.Equal(t, len(in), info.Records)
			require.Positive(t, info.DiskBytes)
			if codec != CodecNone {
				require.Less(t, info.DiskBytes, info.RawBytes)
			}

			out := readChunk(t, s, info.Name)
			require.Len(t, out, len(in))
			for i := range in {
				require.True(t, record.EqualRecords(in[i], out[i]), "record %d", i)
			}
		})
	}
}

func TestEmptyChunk(t *testing.T) {
	s, err := NewStore(Options{Dir: t.TempDir(), Codec: CodecZstd})
	require.NoError(t, err)
	defer s.Close()

	info := writeChunk(t, s, nil)
	require.Empty(t, readChunk(t, s, info.Name))
}

func TestIncompressibleFrameStoredRaw(t *testing.T) {
	packed, used, err := compress([]byte{1, 2, 3}, CodecLZ4)
	require.NoError(t, err)
	require.Equal(t, CodecNone, used)
	require.Equal(t, []byte{1, 2, 3}, packed)
}

func TestNamespacesAreIsolated(t *testing.T) {
	parent := t.TempDir()
	a, err := NewStore(Options{Dir: parent})
	require.NoError(t, err)
	b, err := NewStore(Options{Dir: parent})
	require.NoError(t, err)
	require.NotEqual(t, a.Dir(), b.Dir())
	require.NotEqual(t, a.ID(), b.ID())
	require.Contains(t, filepath.Base(a.Dir()), a.ID())

	ca := writeChunk(t, a, sample(3))
	cb := writeChunk(t, b, sample(5))
	require.Equal(t, ca.Name, cb.Name)
	require.Len(t, readChunk(t, a, ca.Name), 3)
	require.Len(t, readChunk(t, b, cb.Name), 5)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = os.Stat(a.Dir())
	require.True(t, os.IsNotExist(err))
	_, err = a.Create()
	require.Error(t, err)

	require.NoError(t, b.Close())
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCorruptChunkIsIOError(t *testing.T) {
	s, err := NewStore(Options{Dir: t.TempDir(), Codec: CodecZstd})
	require.NoError(t, err)
	defer s.Close()

	info := writeChunk(t, s, sample(10))
	path := filepath.Join(s.Dir(), info.Name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	rd, err := s.Open(info.Name)
	require.NoError(t, err)
	defer rd.Close()
	_, err = rd.Next()
	var ioe *errs.IOError
	require.True(t, errors.As(err, &ioe), "got %v", err)
	require.True(t, errs.IsFatal(err))
}

func TestOpenRejectsPaths(t *testing.T) {
	s, err := NewStore(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Open("../etc/passwd")
	require.Error(t, err)
}

func TestFreeSpaceGuard(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "freebsd" {
		t.Skip("free space is not measured on this platform")
	}
	s, err := NewStore(Options{Dir: t.TempDir(), MinFreeBytes: math.MaxUint64})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Create()
	require.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": CodecZstd, "LZ4": CodecLZ4, "none": CodecNone, "zstd": CodecZstd} {
		got, err := ParseCodec(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseCodec("brotli")
	require.Error(t, err)
}
