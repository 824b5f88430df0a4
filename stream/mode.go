package stream

import (
	"github.com/pkg/errors"

	"github.com/vdisk/petastore"
)

// Mode is a parsed fopen mode string.
type Mode struct {
	Create   bool
	Truncate bool
	Append   bool
	raw      string
}

// ParseMode accepts "r", "w", "a", and any two-character combination with
// 'w' in either position ("rw", "wr", ...), which selects create-if-missing.
// Only bare "w" truncates an existing file; "rw"/"wr" open it read-write
// with the prior contents intact. "a" creates the file if missing and
// positions the cursor at end-of-file without truncating. Any other byte
// is ErrBadMode.
func ParseMode(s string) (Mode, error) {
	if len(s) == 0 || len(s) > 2 {
		return Mode{}, errors.Wrapf(petastore.ErrBadMode, "stream: mode %q", s)
	}

	var sawR, sawW, sawA bool
	for _, b := range []byte(s) {
		switch b {
		case 'r':
			sawR = true
		case 'w':
			sawW = true
		case 'a':
			sawA = true
		default:
			return Mode{}, errors.Wrapf(petastore.ErrBadMode, "stream: mode %q", s)
		}
	}

	switch {
	case sawW && sawA:
		return Mode{}, errors.Wrapf(petastore.ErrBadMode, "stream: mode %q mixes write and append", s)
	case sawW:
		return Mode{Create: true, Truncate: s == "w", raw: s}, nil
	case sawA:
		if sawR {
			return Mode{}, errors.Wrapf(petastore.ErrBadMode, "stream: mode %q mixes append and read", s)
		}
		return Mode{Create: true, Append: true, raw: s}, nil
	case sawR:
		return Mode{raw: s}, nil
	default:
		return Mode{}, errors.Wrapf(petastore.ErrBadMode, "stream: mode %q", s)
	}
}

// String returns the mode string ParseMode was given.
func (m Mode) String() string { return m.raw }
