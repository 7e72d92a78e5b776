package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("ABC"),
		[]byte("ABD"),
		make([]byte, 1<<16),
	}

	for _, in := range inputs {
		first := Sum(in)
		second := Sum(in)
		assert.Equal(t, first, second, "hash of %d bytes must be stable", len(in))
	}
}

func TestSum_DistinguishesPayloads(t *testing.T) {
	assert.NotEqual(t, Sum([]byte("ABC")), Sum([]byte("ABD")))
}

func TestSum_EmptyAndNilEqual(t *testing.T) {
	assert.Equal(t, Sum(nil), Sum([]byte{}))
	assert.False(t, Sum(nil).IsZero(), "hash of empty payload is still a real digest")
}

func TestSum_KnownVector(t *testing.T) {
	// SHA-256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Sum([]byte("abc")).String())
}

func TestHashFromBytes(t *testing.T) {
	h := Sum([]byte("payload"))

	got, err := HashFromBytes(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = HashFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseHash(t *testing.T) {
	h := Sum([]byte("payload"))

	got, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ParseHash("not-hex")
	assert.Error(t, err)
}

func TestHash_BytesIsCopy(t *testing.T) {
	h := Sum([]byte("payload"))
	b := h.Bytes()
	b[0] ^= 0xff
	assert.NotEqual(t, b[0], h[0])
}

func TestHash_Short(t *testing.T) {
	h := Sum([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01", h.Short())
}
