// Package petastore defines the vocabulary shared by every layer of the
// on-blob filesystem: the blob-store interface, the typed block header,
// and the layout constants.
//
// Subpackages build the filesystem on top of this vocabulary:
//
//	memblob   - an in-memory BlobStore, for tests and examples
//	blockio   - typed block handles, the superblock, and blob-id allocation
//	directory - the hash-bucketed filename directory
//	control   - per-file control-block chains (offset -> data blob)
//	stream    - the FILE-handle API: Open/Close/Read/Write/Seek/Tell/Remove
package petastore
