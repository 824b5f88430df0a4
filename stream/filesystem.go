// Package stream implements the FILE handle and the top-level Filesystem
// facade: open/close/read/write/seek/tell/remove, layered on the
// directory and control packages. It owns the process-wide superblock
// and is the only package that allocates blob ids.
package stream

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/blockio"
	"github.com/vdisk/petastore/control"
	"github.com/vdisk/petastore/directory"
)

// Filesystem is the entry point: Initialize once, fopen/fremove any number
// of times, Finalize exactly once at shutdown.
type Filesystem struct {
	store  petastore.BlobStore
	layout petastore.Layout
	log    logrus.FieldLogger

	sb   *blockio.Superblock
	dir  *directory.Directory
	ctrl *control.Chain
}

// Option customizes Open.
type Option func(*Filesystem)

// WithLogger overrides the default logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(fs *Filesystem) { fs.log = log }
}

// Open initializes the superblock (constructing a fresh one if store's
// blob 0 is empty) and returns a ready-to-use Filesystem.
func Open(store petastore.BlobStore, layout petastore.Layout, opts ...Option) (*Filesystem, error) {
	fs := &Filesystem{store: store, layout: layout, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(fs)
	}

	sb, err := blockio.Initialize(store, layout, fs.log)
	if err != nil {
		return nil, err
	}

	fs.sb = sb
	fs.dir = directory.New(store, layout, fs.log)
	fs.ctrl = control.New(store, layout, fs.log)
	return fs, nil
}

// Finalize writes the superblock back. Call exactly once, at shutdown.
func (fs *Filesystem) Finalize() error {
	return fs.sb.Finalize()
}

func (fs *Filesystem) allocate() petastore.BlobID {
	return fs.sb.AllocateBlobID()
}

// Fopen locates or creates name per mode and returns a Stream positioned
// as mode dictates: 0 for a fresh or truncated file, end-of-file for
// append, and the prior contents' start for a plain read/write reopen.
func (fs *Filesystem) Fopen(name directory.FileName, modeStr string) (*Stream, error) {
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	if err := directory.ValidateName(name, fs.layout.MaxPath); err != nil {
		return nil, err
	}

	loc, found, err := fs.dir.Find(name)
	if err != nil {
		return nil, err
	}

	var first petastore.BlobID
	var position uint64

	switch {
	case found && mode.Truncate:
		old, err := control.Open(fs.store, loc.Entry.ControlBlob, fs.layout.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		dirBlock := old.Directory()
		if err := old.Release(); err != nil {
			return nil, err
		}
		fresh, err := control.Create(fs.store, loc.Entry.ControlBlob, dirBlock, 0, fs.layout.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		if err := fresh.Release(); err != nil {
			return nil, err
		}
		fs.log.WithField("name", name).Info("stream: truncated on open")
		first = loc.Entry.ControlBlob

	case found && mode.Append:
		first = loc.Entry.ControlBlob
		position, err = fs.ctrl.Length(first)
		if err != nil {
			return nil, err
		}

	case found:
		first = loc.Entry.ControlBlob

	case mode.Create:
		dirHead := fs.dir.BucketID(name)
		id := fs.allocate()
		head, err := fs.ctrl.CreateFirst(id, dirHead)
		if err != nil {
			return nil, err
		}
		if err := head.Release(); err != nil {
			return nil, err
		}
		if _, err := fs.dir.Insert(name, id, fs.allocate); err != nil {
			return nil, err
		}
		first = id

	default:
		return nil, errors.Wrapf(petastore.ErrNotFound, "stream: %q", name)
	}

	return &Stream{fs: fs, name: name, mode: mode, first: first, position: position}, nil
}

// Fremove tombstones name's directory entry and orphans its control
// chain. Returns petastore.ErrNotFound if name has no entry.
func (fs *Filesystem) Fremove(name directory.FileName) error {
	loc, found, err := fs.dir.Find(name)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(petastore.ErrNotFound, "stream: %q", name)
	}

	if err := fs.ctrl.Delete(loc.Entry.ControlBlob); err != nil {
		return err
	}
	return fs.dir.Delete(name)
}
