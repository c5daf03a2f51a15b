package core

// codec.go – the single canonical encoder used for both consensus hashing
// and persistence. The schema is minimal and fully owned by
// this module: big-endian variable-length minimal-representation
// integers, length-prefixed byte strings, ascending-key-order maps,
// single-byte booleans, no floating point. See DESIGN.md for why this is
// hand-rolled rather than an RLP-style library encoding.

import (
	"encoding/binary"
	"math/big"
	"sort"
)

// Encoder accumulates a canonical byte stream.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{buf: make([]byte, 0, 64)} }

func (e *Encoder) Bytes() []byte { return e.buf }

// Bool writes a single 0x00/0x01 byte.
func (e *Encoder) Bool(b bool) *Encoder {
	if b {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
	return e
}

// Uint64 writes a minimal big-endian representation prefixed by its
// own length byte (0..8).
func (e *Encoder) Uint64(v uint64) *Encoder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < 8 && tmp[i] == 0 {
		i++
	}
	e.buf = append(e.buf, byte(8-i))
	e.buf = append(e.buf, tmp[i:]...)
	return e
}

// Uint32 writes v via the Uint64 path, keeping one integer encoding rule
// module-wide.
func (e *Encoder) Uint32(v uint32) *Encoder { return e.Uint64(uint64(v)) }

// BigInt writes an arbitrary-precision signed integer as a sign byte
// (0x00 non-negative, 0x01 negative) followed by the length-prefixed
// big-endian magnitude.
func (e *Encoder) BigInt(v *big.Int) *Encoder {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
	mag := new(big.Int).Abs(v).Bytes()
	e.Bytes_(mag)
	return e
}

// Bytes_ writes a length-prefixed byte string. The length itself is a
// minimal big-endian varint (via Uint64) so long strings still encode
// canonically.
func (e *Encoder) Bytes_(b []byte) *Encoder {
	e.Uint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// String writes a length-prefixed UTF-8 string.
func (e *Encoder) String(s string) *Encoder { return e.Bytes_([]byte(s)) }

// Raw appends pre-encoded canonical bytes verbatim (used to splice in the
// encoding of a nested structure without re-framing it).
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// Uint64MapKeys returns the keys of m in ascending numeric order, for
// encoding a uint64-keyed map canonically.
func Uint64MapKeys(m map[uint64][]byte) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StringMapKeys returns the keys of m in ascending lexicographic order,
// used by every canonical map encoding in this module.
func StringMapKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
