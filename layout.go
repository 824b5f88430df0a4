package petastore

// Layout carries the filesystem's tunables. Production code uses
// DefaultLayout; tests construct smaller layouts. Layout serializes to
// YAML as part of stream.Report.
type Layout struct {
	// BlobSize is the hard per-blob byte limit the store enforces.
	BlobSize int `yaml:"blob_size"`

	// DirHeads is the number of directory hash buckets. Bucket ids
	// occupy blob ids 1..DirHeads.
	DirHeads uint32 `yaml:"dir_heads"`

	// MaxPath is the maximum filename length, NUL-terminated,
	// printable-ASCII only.
	MaxPath int `yaml:"max_path"`

	// Magic is the superblock's identifying string, NUL-padded to 16
	// bytes on disk.
	Magic string `yaml:"magic"`

	// Version is the superblock format version this layout expects.
	Version uint64 `yaml:"version"`

	// VerifyChecksums gates the per-control-block BLAKE3 integrity
	// digest. Default: on.
	VerifyChecksums bool `yaml:"verify_checksums"`
}

// DefaultLayout returns the filesystem's production constants:
// BLOB_SIZE=2^18, DIR_HEADS=2^10, MAX_PATH=512, MAGIC="vdisk2021-00001",
// VERSION=1.
func DefaultLayout() Layout {
	return Layout{
		BlobSize:        1 << 18,
		DirHeads:        1 << 10,
		MaxPath:         512,
		Magic:           "vdisk2021-00001",
		Version:         1,
		VerifyChecksums: true,
	}
}

// SuperblockID is the fixed blob id of the superblock.
const SuperblockID BlobID = 0

// FirstFreeDataID returns the first blob id available for directory
// overflow blocks, control blocks, and data blobs: one past the last
// directory bucket head.
func (l Layout) FirstFreeDataID() BlobID {
	return BlobID(l.DirHeads) + 1
}

// MagicBytes returns Magic NUL-padded or truncated to 16 bytes, the
// on-disk width of the superblock's magic field.
func (l Layout) MagicBytes() [16]byte {
	var out [16]byte
	copy(out[:], l.Magic)
	return out
}

// controlFixedFields is the on-disk size of a control block's fixed
// fields after the BlockHeader: directory(8) + start(8) + lastMod(8) +
// checksum(32). The checksum slot is reserved whether or not
// Layout.VerifyChecksums is set.
const controlFixedFields = 8 + 8 + 8 + 32

// ControlCapacity returns the number of data-blob slots a single control
// block can index: floor((BlobSize - header - fixed fields) / 8), where
// the fixed fields are directory/start/lastMod/checksum.
func (l Layout) ControlCapacity() int {
	return (l.BlobSize - BlockHeaderSize - controlFixedFields) / 8
}

// DirEntrySize is the on-disk size of one directory FileEntry record:
// MaxPath bytes of name plus one u64 control-block id.
func (l Layout) DirEntrySize() int {
	return l.MaxPath + 8
}

// DirCapacity returns the number of FileEntry records a single directory
// block can hold: floor((BlobSize - header) / sizeof(FileEntry)).
func (l Layout) DirCapacity() int {
	return (l.BlobSize - BlockHeaderSize) / l.DirEntrySize()
}
