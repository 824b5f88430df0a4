package petastore

// BlobID identifies a blob in the underlying store. Zero is reserved: it
// names the superblock when used as a block address, and "unwritten slot"
// inside a control block's blobs[] array. Data-blob ids are only minted
// at or above FirstFreeDataID.
type BlobID uint64

// Blob is a single entry of the underlying store: opaque bytes addressed by
// a BlobID, refcounted by the store.
type Blob interface {
	// Get returns the blob's current contents. Empty for a blob that has
	// never been written.
	Get() []byte

	// Put replaces the blob's contents atomically. Returns ErrBadArgs if
	// len(data) exceeds MaxBlobSize, ErrOutOfSpace, or ErrIOError.
	Put(data []byte) error

	// Release gives up the caller's reference to the blob.
	Release() error
}

// BlobStore is the underlying flat, fixed-size-blob keyed store. The
// whole module is built on this interface.
type BlobStore interface {
	// GetBlob always returns a handle, even for an id that has never been
	// written (in which case Get() on it returns nil/empty bytes). The
	// caller must Release() the handle when done with it.
	GetBlob(id BlobID) (Blob, error)

	// FreeSpace reports the store's remaining capacity in bytes.
	FreeSpace() uint64
}

// BlockType discriminates the structural interpretation of a block's
// payload. It is the first field of every BlockHeader.
type BlockType uint32

const (
	// TypeNone marks a block that has not been structurally initialized.
	TypeNone BlockType = iota
	// TypeControl marks a per-file control (index) block.
	TypeControl
	// TypeDir marks a directory bucket head or overflow block.
	TypeDir
	// TypeData marks a data blob. Data blobs carry no header on disk;
	// they are referenced only from control blocks.
	TypeData
)

func (t BlockType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeControl:
		return "control"
	case TypeDir:
		return "dir"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}

// Flags is a bitset reserved for per-block metadata. Only FlagNew is
// currently defined.
type Flags uint32

const (
	// FlagNone is the zero value.
	FlagNone Flags = 0
	// FlagNew marks a block written for the first time by the typed
	// wrapper's lazy initialization (blockio.Handle).
	FlagNew Flags = 1 << 0
)

// BlockHeaderSize is the wire size, in bytes, of BlockHeader: one u32 type,
// one u32 flags, two u64 links.
const BlockHeaderSize = 4 + 4 + 8 + 8

// BlockHeader is the fixed-layout prefix of every non-data block.
// Prev/Next are BlobID; zero means "no link".
type BlockHeader struct {
	Type  BlockType
	Flags Flags
	Prev  BlobID
	Next  BlobID
}
