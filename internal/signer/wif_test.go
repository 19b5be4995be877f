package signer

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncodeWIF(t *testing.T, payload []byte) string {
	t.Helper()
	full := append([]byte{0x80}, payload...)
	sum := sha256.Sum256(full)
	sum = sha256.Sum256(sum[:])
	full = append(full, sum[:4]...)

	// Reuse base58Decode's alphabet to encode, the slow but obviously
	// correct way: repeated division.
	var encoded []byte
	n := new(big.Int).SetBytes(full)
	zero := big.NewInt(0)
	base := big.NewInt(58)
	mod := new(big.Int)
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		encoded = append([]byte{base58Alphabet[mod.Int64()]}, encoded...)
	}
	for _, b := range full {
		if b != 0 {
			break
		}
		encoded = append([]byte{'1'}, encoded...)
	}
	return string(encoded)
}

func TestDecodeWIFRoundTrip(t *testing.T) {
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	wif := mustEncodeWIF(t, payload)

	decoded, err := decodeWIF(wif)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodeWIFRejectsBadChecksum(t *testing.T) {
	payload := make([]byte, 32)
	wif := mustEncodeWIF(t, payload)
	corrupted := wif[:len(wif)-1] + "1"

	_, err := decodeWIF(corrupted)
	assert.Error(t, err)
}
