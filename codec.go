package petastore

import "encoding/binary"

// MarshalBinary encodes the header in the fixed little-endian layout every
// block on the store shares: type, flags, prev, next.
func (h BlockHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BlockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Flags))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Prev))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.Next))
	return buf, nil
}

// UnmarshalBinary decodes a header from its fixed little-endian layout.
// ErrCorrupt if buf is shorter than BlockHeaderSize.
func (h *BlockHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < BlockHeaderSize {
		return ErrCorrupt
	}
	h.Type = BlockType(binary.LittleEndian.Uint32(buf[0:4]))
	h.Flags = Flags(binary.LittleEndian.Uint32(buf[4:8]))
	h.Prev = BlobID(binary.LittleEndian.Uint64(buf[8:16]))
	h.Next = BlobID(binary.LittleEndian.Uint64(buf[16:24]))
	return nil
}
