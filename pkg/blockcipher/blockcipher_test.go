package blockcipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(n int) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestNoneCodecPassesThrough(t *testing.T) {
	c, err := New(AlgoNone, ModeECB, nil)
	require.NoError(t, err)
	plaintext := []byte("hello swim")
	out, err := c.Encode(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
	back, err := c.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, plaintext, back)
}

func TestRoundTripAllModesAllAlgos(t *testing.T) {
	cases := []struct {
		name string
		algo Algo
		mode Mode
	}{
		{"aes128-ecb", AlgoAES128, ModeECB},
		{"aes128-cbc", AlgoAES128, ModeCBC},
		{"aes128-cfb", AlgoAES128, ModeCFB},
		{"aes128-ofb", AlgoAES128, ModeOFB},
		{"aes192-cbc", AlgoAES192, ModeCBC},
		{"aes256-cbc", AlgoAES256, ModeCBC},
		{"des-ecb", AlgoDES, ModeECB},
		{"des-cbc", AlgoDES, ModeCBC},
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.algo, tc.mode, key(tc.algo.KeySize()))
			require.NoError(t, err)

			out, err := c.Encode(plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, plaintext, out)

			back, err := c.Decode(out)
			require.NoError(t, err)
			assert.Equal(t, plaintext, back)
		})
	}
}

func TestECBIsDeterministicPerBlock(t *testing.T) {
	c, err := New(AlgoAES128, ModeECB, key(16))
	require.NoError(t, err)
	// Two identical 16 byte blocks encrypt to identical ciphertext under
	// ECB -- the defining (and normally undesirable) property of the mode.
	// Block-aligned input still gets a full block of PKCS#7 padding, so the
	// output is three blocks long.
	plaintext := bytes.Repeat([]byte("A"), 32)
	out, err := c.Encode(plaintext)
	require.NoError(t, err)
	require.Len(t, out, 48)
	assert.Equal(t, out[:16], out[16:32])
}

func TestCBCUsesFreshIVPerCall(t *testing.T) {
	c, err := New(AlgoAES128, ModeCBC, key(16))
	require.NoError(t, err)
	plaintext := []byte("same plaintext every time")
	a, err := c.Encode(plaintext)
	require.NoError(t, err)
	b, err := c.Encode(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh IV should make repeated encodes differ")
}

func TestWrongKeySizeRejected(t *testing.T) {
	_, err := New(AlgoAES256, ModeCBC, key(16))
	require.Error(t, err)
}

func TestDecodeTooShortForIV(t *testing.T) {
	c, err := New(AlgoAES128, ModeCBC, key(16))
	require.NoError(t, err)
	_, err = c.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeCorruptedPadding(t *testing.T) {
	c, err := New(AlgoAES128, ModeECB, key(16))
	require.NoError(t, err)
	out, err := c.Encode([]byte("x"))
	require.NoError(t, err)
	out[len(out)-1] ^= 0xFF
	_, err = c.Decode(out)
	require.Error(t, err)
}
