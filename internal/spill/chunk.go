package spill

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

// maxFrameBytes bounds a single frame so a corrupt header cannot trigger a
// huge allocation.
const maxFrameBytes = 1 << 30

// Writer appends records to a chunk file. It is not safe for concurrent use.
type Writer struct {
	f     *os.File
	bw    *bufio.Writer
	codec Codec
	limit int
	batch []record.Record
	info  Chunk
	err   error
}

func newWriter(f *os.File, name string, codec Codec, frameRecords int) *Writer {
	return &Writer{
		f:     f,
		bw:    bufio.NewWriterSize(f, 256<<10),
		codec: codec,
		limit: frameRecords,
		batch: make([]record.Record, 0, frameRecords),
		info:  Chunk{Name: name},
	}
}

// Write buffers r and writes a frame whenever the batch is full.
func (w *Writer) Write(r record.Record) error {
	if w.err != nil {
		return w.err
	}
	w.batch = append(w.batch, r)
	w.info.Records++
	if len(w.batch) >= w.limit {
		return w.flushFrame()
	}
	return nil
}

func (w *Writer) flushFrame() error {
	if len(w.batch) == 0 {
		return nil
	}
	raw, err := record.EncodeCBOR(w.batch)
	if err != nil {
		w.err = &errs.IOError{Op: "spill", Err: err}
		return w.err
	}
	packed, used, err := compress(raw, w.codec)
	if err != nil {
		w.err = &errs.IOError{Op: "spill", Err: err}
		return w.err
	}
	var hdr [1 + 2*binary.MaxVarintLen64]byte
	hdr[0] = byte(used)
	n := 1
	n += binary.PutUvarint(hdr[n:], uint64(len(raw)))
	n += binary.PutUvarint(hdr[n:], uint64(len(packed)))
	if _, err := w.bw.Write(hdr[:n]); err != nil {
		w.err = &errs.IOError{Op: "spill", Err: err}
		return w.err
	}
	if _, err := w.bw.Write(packed); err != nil {
		w.err = &errs.IOError{Op: "spill", Err: err}
		return w.err
	}
	w.info.RawBytes += int64(len(raw))
	w.info.DiskBytes += int64(n + len(packed))
	w.batch = w.batch[:0]
	return nil
}

// Close writes the last frame and syncs the file. The chunk must not be
// read before Close returns.
func (w *Writer) Close() error {
	err := w.flushFrame()
	if err == nil {
		if ferr := w.bw.Flush(); ferr != nil {
			err = &errs.IOError{Op: "spill", Err: ferr}
		}
	}
	if cerr := w.f.Close(); err == nil && cerr != nil {
		err = &errs.IOError{Op: "spill", Err: cerr}
	}
	w.batch = nil
	return err
}

// Info describes the chunk written so far.
func (w *Writer) Info() Chunk { return w.info }

// Reader streams records back from a chunk file.
type Reader struct {
	f     *os.File
	br    *bufio.Reader
	name  string
	batch []record.Record
	pos   int
}

func newReader(f *os.File, name string) *Reader {
	return &Reader{f: f, br: bufio.NewReaderSize(f, 256<<10), name: name}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (record.Record, error) {
	for r.pos >= len(r.batch) {
		if err := r.readFrame(); err != nil {
			return record.Record{}, err
		}
	}
	rec := r.batch[r.pos]
	r.batch[r.pos] = record.Record{}
	r.pos++
	return rec, nil
}

func (r *Reader) readFrame() error {
	tag, err := r.br.ReadByte()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return r.fail(err)
	}
	rawSize, err := binary.ReadUvarint(r.br)
	if err != nil {
		return r.fail(fmt.Errorf("frame header: %w", unexpected(err)))
	}
	packedSize, err := binary.ReadUvarint(r.br)
	if err != nil {
		return r.fail(fmt.Errorf("frame header: %w", unexpected(err)))
	}
	if rawSize > maxFrameBytes || packedSize > maxFrameBytes {
		return r.fail(fmt.Errorf("frame too large (%d/%d bytes)", rawSize, packedSize))
	}
	packed := make([]byte, packedSize)
	if _, err := io.ReadFull(r.br, packed); err != nil {
		return r.fail(fmt.Errorf("frame payload: %w", unexpected(err)))
	}
	raw, err := decompress(packed, Codec(tag), int(rawSize))
	if err != nil {
		return r.fail(err)
	}
	batch, err := record.DecodeCBOR(raw)
	if err != nil {
		return r.fail(err)
	}
	r.batch, r.pos = batch, 0
	return nil
}

func (r *Reader) fail(err error) error {
	return &errs.IOError{Op: "spill", Err: fmt.Errorf("%s: %w", r.name, err)}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Close releases the file handle.
func (r *Reader) Close() error {
	r.batch = nil
	return r.f.Close()
}
