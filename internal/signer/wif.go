package signer

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() map[rune]int64 {
	m := make(map[rune]int64, len(base58Alphabet))
	for i, c := range base58Alphabet {
		m[c] = int64(i)
	}
	return m
}()

// decodeWIF decodes a Hive/Graphene posting key in Wallet Import Format:
// base58check over [version byte][32-byte private key][4-byte checksum].
func decodeWIF(wif string) ([]byte, error) {
	raw, err := base58Decode(wif)
	if err != nil {
		return nil, fmt.Errorf("signer: decode wif: %w", err)
	}
	if len(raw) != 37 {
		return nil, fmt.Errorf("signer: wif has unexpected length %d", len(raw))
	}

	payload, checksum := raw[:33], raw[33:]
	sum := sha256.Sum256(payload)
	sum = sha256.Sum256(sum[:])
	for i := 0; i < 4; i++ {
		if sum[i] != checksum[i] {
			return nil, fmt.Errorf("signer: wif checksum mismatch")
		}
	}
	return payload[1:], nil
}

func base58Decode(s string) ([]byte, error) {
	result := big.NewInt(0)
	base := big.NewInt(58)
	for _, c := range s {
		v, ok := base58Index[c]
		if !ok {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(v))
	}

	decoded := result.Bytes()

	// Leading '1' characters encode leading zero bytes.
	leadingZeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}
