package stream

import (
	"time"

	"github.com/pkg/errors"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/control"
	"github.com/vdisk/petastore/directory"
)

// Stream is an open FILE handle: cursor position plus a reference to the
// file's control chain. Each Stream owns its own control-block cursor;
// cursors are not shared across Streams for the same file.
type Stream struct {
	fs   *Filesystem
	name directory.FileName
	mode Mode

	first    petastore.BlobID
	current  *control.Block
	position uint64
}

// Name returns the name this Stream was opened with.
func (s *Stream) Name() directory.FileName { return s.name }

// Tell returns the cursor's current position.
func (s *Stream) Tell() uint64 { return s.position }

// ModTime returns the last-modified timestamp (Unix nanoseconds) recorded
// on the file's head control block as of the last reload.
func (s *Stream) ModTime() (uint64, error) {
	head, err := control.Open(s.fs.store, s.first, s.fs.layout.VerifyChecksums)
	if err != nil {
		return 0, err
	}
	mod := head.LastMod()
	return mod, head.Release()
}

// SeekOrigin mirrors fseek's whence argument.
type SeekOrigin int

const (
	SeekStart   SeekOrigin = 0
	SeekEnd     SeekOrigin = 1
	SeekCurrent SeekOrigin = 2
)

// Seek repositions the cursor. The resulting position must be
// non-negative; a position beyond end-of-file is permitted, and the next
// write materializes the gap per the control layer's write path.
func (s *Stream) Seek(offset int64, origin SeekOrigin) (uint64, error) {
	var base int64
	switch origin {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = int64(s.position)
	case SeekEnd:
		length, err := s.fs.ctrl.Length(s.first)
		if err != nil {
			return 0, err
		}
		base = int64(length)
	default:
		return 0, errors.Wrapf(petastore.ErrBadArgs, "stream: bad seek origin %d", origin)
	}

	next := base + offset
	if next < 0 {
		return 0, errors.Wrapf(petastore.ErrBadArgs, "stream: seek to negative position %d", next)
	}

	s.position = uint64(next)
	s.current = nil // position moved; reacquire lazily on next I/O
	return s.position, nil
}

// Read copies up to len(buf) bytes starting at the cursor into buf and
// advances the cursor by the amount copied. A single call never crosses
// a data-blob boundary; it returns a short count instead. Returns 0 at
// EOF.
func (s *Stream) Read(buf []byte) (int, error) {
	if buf == nil {
		return 0, errors.Wrap(petastore.ErrBadArgs, "stream: nil buffer")
	}
	if len(buf) == 0 {
		return 0, nil
	}

	pos := s.fs.ctrl.Translate(s.position)
	block, err := s.fs.ctrl.SeekRead(s.current, s.first, pos.CtrlIndex)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, nil
	}
	s.current = block

	n, err := s.fs.ctrl.Read(block, pos.Slot, pos.WithinBlob, buf)
	if err != nil {
		return 0, err
	}
	s.position += uint64(n)
	return n, nil
}

// Write copies data into the file starting at the cursor and advances the
// cursor by len(data). Returns petastore.ErrCrossBoundary, without
// writing anything, if data would cross a data-blob boundary in one call.
// WriteFull loops over the boundary instead.
func (s *Stream) Write(data []byte) (int, error) {
	if data == nil {
		return 0, errors.Wrap(petastore.ErrBadArgs, "stream: nil buffer")
	}
	if len(data) == 0 {
		return 0, nil
	}

	pos := s.fs.ctrl.Translate(s.position)
	if pos.WithinBlob+len(data) > s.fs.layout.BlobSize {
		return 0, petastore.ErrCrossBoundary
	}
	block, err := s.fs.ctrl.SeekWrite(s.current, s.first, pos.CtrlIndex, s.fs.allocate)
	if err != nil {
		return 0, err
	}
	s.current = block

	n, err := s.fs.ctrl.Write(block, pos.Slot, pos.WithinBlob, data, s.fs.allocate)
	if err != nil {
		return 0, err
	}
	if err := block.Touch(uint64(time.Now().UnixNano())); err != nil {
		return 0, err
	}

	s.position += uint64(n)
	return n, nil
}

// ReadFull loops Read until buf is full or a Read returns (0, nil) at
// EOF, returning the total bytes copied. Unlike Read, it may span
// multiple data blobs.
func (s *Stream) ReadFull(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// WriteFull loops Write until all of data is written, retrying with a
// clamped chunk when a single call reports ErrCrossBoundary. Unlike
// Write, it may span multiple data blobs.
func (s *Stream) WriteFull(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := s.Write(data[total:])
		if err != nil && !errors.Is(err, petastore.ErrCrossBoundary) {
			return total, err
		}
		if n > 0 {
			total += n
			continue
		}

		// ErrCrossBoundary with n == 0: the chunk that didn't fit spans
		// into the next data blob. Clamp to what remains of the current
		// blob and retry.
		pos := s.fs.ctrl.Translate(s.position)
		remaining := s.fs.layout.BlobSize - pos.WithinBlob
		if remaining <= 0 || remaining > len(data[total:]) {
			return total, errors.Wrap(petastore.ErrIOError, "stream: writeFull could not make progress")
		}
		n, err = s.Write(data[total : total+remaining])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close releases the Stream's control-block cursor. Writes are eager, so
// Close is not a flush. Reusing a Stream after Close is undefined.
func (s *Stream) Close() error {
	if s.current == nil {
		return nil
	}
	return s.current.Release()
}
