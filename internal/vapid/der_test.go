package vapid

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(body ...byte) []byte { return append([]byte{0x30, byte(len(body))}, body...) }

func integer(v ...byte) []byte { return append([]byte{0x02, byte(len(v))}, v...) }

func cat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

func fill(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func TestDERToJOSE(t *testing.T) {
	t.Parallel()

	r32 := append([]byte{0x7f}, fill(31, 0x11)...)
	rPadded := append([]byte{0x00, 0x80}, fill(31, 0x22)...) // 33 bytes, sign-bit padding
	sShort := fill(31, 0x33)                                 // leading zero byte dropped by DER

	cases := []struct {
		name  string
		der   []byte
		wantR []byte
		wantS []byte
	}{
		{
			name:  "plain 32-byte halves",
			der:   seq(cat(integer(r32...), integer(r32...))...),
			wantR: r32,
			wantS: r32,
		},
		{
			name:  "r with zero padding",
			der:   seq(cat(integer(rPadded...), integer(r32...))...),
			wantR: rPadded[1:],
			wantS: r32,
		},
		{
			name:  "short s gets left padded",
			der:   seq(cat(integer(r32...), integer(sShort...))...),
			wantR: r32,
			wantS: append([]byte{0x00}, sShort...),
		},
		{
			name:  "tiny values",
			der:   seq(cat(integer(0x01), integer(0x00, 0x80))...),
			wantR: append(fill(31, 0), 0x01),
			wantS: append(fill(31, 0), 0x80),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := DERToJOSE(tc.der, 32)
			require.NoError(t, err)
			require.Len(t, out, 64)
			assert.Equal(t, tc.wantR, out[:32])
			assert.Equal(t, tc.wantS, out[32:])
		})
	}
}

func TestDERToJOSEMalformed(t *testing.T) {
	t.Parallel()

	ok := integer(0x01)
	tooLong := append([]byte{0x01}, fill(32, 0x44)...) // 33 significant bytes

	cases := []struct {
		name string
		der  []byte
	}{
		{"empty", nil},
		{"not a sequence", cat([]byte{0x31, 0x06}, ok, ok)},
		{"sequence length mismatch", cat([]byte{0x30, 0x09}, ok, ok)},
		{"truncated integer", []byte{0x30, 0x04, 0x02, 0x05, 0x01, 0x02}},
		{"wrong integer tag", seq(cat([]byte{0x04, 0x01, 0x01}, ok)...)},
		{"empty integer", seq(cat([]byte{0x02, 0x00}, ok)...)},
		{"negative integer", seq(cat(integer(0x80), ok)...)},
		{"missing s", seq(ok...)},
		{"trailing bytes", seq(cat(ok, ok, []byte{0x00})...)},
		{"indefinite length", []byte{0x30, 0x80, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01}},
		{"r wider than 32 bytes", seq(cat(integer(tooLong...), ok)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := DERToJOSE(tc.der, 32)
			require.Error(t, err)
		})
	}
}

func TestDERToJOSELongFormLength(t *testing.T) {
	t.Parallel()

	body := cat(integer(0x01), integer(0x02))
	der := append([]byte{0x30, 0x81, byte(len(body))}, body...)
	out, err := DERToJOSE(der, 32)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), out[31])
	assert.Equal(t, byte(0x02), out[63])
}

func TestDERToJOSEVerifiesAgainstStdlib(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))

	for i := 0; i < 64; i++ {
		der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
		require.NoError(t, err)

		raw, err := DERToJOSE(der, 32)
		require.NoError(t, err)
		r := new(big.Int).SetBytes(raw[:32])
		s := new(big.Int).SetBytes(raw[32:])
		require.True(t, ecdsa.Verify(&priv.PublicKey, digest[:], r, s))
	}
}
