package keys

import (
	"encoding/binary"
	"math"

	"github.com/andyglick/perst/perst_errors"
	"github.com/pkg/errors"
)

// The codec maps every Value to a byte string such that bytewise
// comparison of encodings equals Compare on the values, and no
// encoding is a proper prefix of another encoding of the same type.
// Prefix-freeness lets index entries append a ref suffix to the
// encoded key without breaking the sort order.
//
// Integer/Time: sign bit flipped, 8 bytes big-endian.
// Float: IEEE bits; negative values fully inverted, others get the
// sign bit set (standard order-preserving float trick).
// Boolean: one byte. Reference: 8 bytes big-endian.
// String: 0x00 escaped as 0x00 0xFF, terminated by 0x00 0x00. The
// terminator compares below any escaped byte, so "A" < "AB" holds.

const (
	strEsc  = 0x00
	strPad  = 0xFF
	strTerm = 0x00
)

func Encode(dst []byte, v Value) []byte {
	switch v.Type {
	case Integer, Time:
		return binary.BigEndian.AppendUint64(dst, uint64(v.Int)^(1<<63))
	case Float:
		bits := math.Float64bits(v.Flo)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(dst, bits)
	case Boolean:
		if v.Int != 0 {
			return append(dst, 1)
		}
		return append(dst, 0)
	case Reference:
		return binary.BigEndian.AppendUint64(dst, uint64(v.Int))
	case String:
		dst = appendEscaped(dst, v.Str)
		return append(dst, strEsc, strTerm)
	}
	return dst
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == strEsc {
			dst = append(dst, strEsc, strPad)
		} else {
			dst = append(dst, s[i])
		}
	}
	return dst
}

// Decode parses one encoded value of type t from the front of buf and
// returns it along with the number of bytes consumed.
func Decode(t Type, buf []byte) (Value, int, error) {
	switch t {
	case Integer, Time:
		if len(buf) < 8 {
			return Value{}, 0, errors.Wrap(perst_errors.ErrKeyTypeMismatch, "short integer key")
		}
		u := binary.BigEndian.Uint64(buf) ^ (1 << 63)
		return Value{Type: t, Int: int64(u)}, 8, nil
	case Float:
		if len(buf) < 8 {
			return Value{}, 0, errors.Wrap(perst_errors.ErrKeyTypeMismatch, "short float key")
		}
		bits := binary.BigEndian.Uint64(buf)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return F(math.Float64frombits(bits)), 8, nil
	case Boolean:
		if len(buf) < 1 {
			return Value{}, 0, errors.Wrap(perst_errors.ErrKeyTypeMismatch, "short boolean key")
		}
		return B(buf[0] != 0), 1, nil
	case Reference:
		if len(buf) < 8 {
			return Value{}, 0, errors.Wrap(perst_errors.ErrKeyTypeMismatch, "short reference key")
		}
		return R(Ref(binary.BigEndian.Uint64(buf))), 8, nil
	case String:
		var out []byte
		for i := 0; i < len(buf); i++ {
			if buf[i] != strEsc {
				out = append(out, buf[i])
				continue
			}
			if i+1 >= len(buf) {
				break
			}
			if buf[i+1] == strPad {
				out = append(out, strEsc)
				i++
				continue
			}
			return S(string(out)), i + 2, nil
		}
		return Value{}, 0, errors.Wrap(perst_errors.ErrKeyTypeMismatch, "unterminated string key")
	}
	return Value{}, 0, errors.Wrapf(perst_errors.ErrKeyTypeMismatch, "unknown key type %c", byte(t))
}

// EscapePrefix returns the escaped bytes of a string prefix without the
// terminator: the common byte prefix of every key starting with s.
func EscapePrefix(s string) []byte {
	return appendEscaped(nil, s)
}

// Successor returns the smallest byte string greater than every string
// prefixed by b, for use as an exclusive upper bound. Trailing 0xFF
// bytes carry; an all-0xFF input has no successor and yields nil
// (unbounded).
func Successor(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
