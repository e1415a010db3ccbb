package keys

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOrderMatchesCompare(t *testing.T) {
	groups := [][]Value{
		{I(-1 << 62), I(-100), I(-1), I(0), I(1), I(100), I(1 << 62)},
		{F(-1e18), F(-3.5), F(-0.0001), F(0), F(0.0001), F(3.5), F(1e18)},
		{S(""), S("A"), S("AB"), S("A\x00"), S("Aa"), S("B"), S("a")},
		{B(false), B(true)},
		{T(time.Unix(0, 0)), T(time.Unix(1000, 0)), T(time.Unix(1e9, 1))},
		{R(1), R(2), R(1 << 40)},
	}
	for _, vals := range groups {
		for i := 0; i < len(vals); i++ {
			for j := 0; j < len(vals); j++ {
				cmp := Compare(vals[i], vals[j])
				enc := bytes.Compare(Encode(nil, vals[i]), Encode(nil, vals[j]))
				assert.Equal(t, cmp, enc, "%s vs %s", vals[i], vals[j])
			}
		}
	}
}

func TestEncodeStringOrder(t *testing.T) {
	// "A" must sort before "AB": the terminator has to compare below
	// any content byte, including an escaped zero.
	a := Encode(nil, S("A"))
	ab := Encode(nil, S("AB"))
	az := Encode(nil, S("A\x00"))
	assert.True(t, bytes.Compare(a, ab) < 0)
	assert.True(t, bytes.Compare(a, az) < 0)
	assert.True(t, bytes.Compare(az, ab) < 0)
}

func TestDecodeRoundtrip(t *testing.T) {
	vals := []Value{
		I(-42), I(0), I(1 << 50),
		F(-3.5), F(0), F(3.5),
		S(""), S("hello"), S("with\x00zero"), S("tail\x00"),
		B(false), B(true),
		T(time.Unix(123, 456)),
		R(7), R(NilRef),
	}
	for _, v := range vals {
		enc := Encode(nil, v)
		// a ref suffix after the encoding must not confuse the decoder
		enc = append(enc, Ref(99).Bytes()...)
		got, n, err := Decode(v.Type, enc)
		require.NoError(t, err, "%s", v)
		assert.Equal(t, len(enc)-8, n, "%s", v)
		assert.Equal(t, 0, Compare(v, got), "%s", v)
		if v.Type == String {
			assert.Equal(t, v.Str, got.Str)
		}
	}
}

func TestDecodeShortInput(t *testing.T) {
	for _, typ := range []Type{Integer, Float, Time, Reference} {
		_, _, err := Decode(typ, []byte{1, 2, 3})
		assert.Error(t, err, "%s", typ)
	}
	_, _, err := Decode(String, []byte("noterminator"))
	assert.Error(t, err)
}

func TestEscapePrefixIsEncodingPrefix(t *testing.T) {
	for _, s := range []string{"", "A", "Label", "a\x00b"} {
		p := EscapePrefix(s)
		for _, full := range []string{s, s + "X", s + "\x00"} {
			assert.True(t, bytes.HasPrefix(Encode(nil, S(full)), p), "%q %q", s, full)
		}
	}
}

func TestSuccessor(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, Successor([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, Successor([]byte{0x01, 0xFF}))
	assert.Nil(t, Successor([]byte{0xFF, 0xFF}))
	// the successor bounds every continuation of the prefix
	assert.True(t, bytes.Compare([]byte{0x01, 0x02, 0xFF, 0xFF}, Successor([]byte{0x01, 0x02})) < 0)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(42, Integer)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)

	// integers promote to float, never the reverse
	v, err = Coerce(42, Float)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Flo)
	_, err = Coerce(3.5, Integer)
	assert.Error(t, err)

	v, err = Coerce("x", String)
	require.NoError(t, err)
	assert.Equal(t, "x", v.Str)

	_, err = Coerce("x", Boolean)
	assert.Error(t, err)
}
