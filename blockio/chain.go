package blockio

// FollowNext loads the block h.Header().Next points to, returning
// (nil, false, nil) if there is no next block. It does not release h;
// the caller still owns it.
func FollowNext[R any](h *Handle[R]) (*Handle[R], bool, error) {
	next := h.header.Next
	if next == 0 {
		return nil, false, nil
	}
	nh, err := Open(h.store, next, h.blockType, h.codec)
	if err != nil {
		return nil, false, err
	}
	return nh, true, nil
}

// FollowPrev loads the block h.Header().Prev points to, returning
// (nil, false, nil) if there is no previous block.
func FollowPrev[R any](h *Handle[R]) (*Handle[R], bool, error) {
	prev := h.header.Prev
	if prev == 0 {
		return nil, false, nil
	}
	ph, err := Open(h.store, prev, h.blockType, h.codec)
	if err != nil {
		return nil, false, err
	}
	return ph, true, nil
}
