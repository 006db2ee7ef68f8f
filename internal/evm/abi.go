package evm

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherToWei converts a normalized amount back to its raw wei representation.
// Inverse of WeiToEther, within float64 precision.
func EtherToWei(amount float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetFloat64(amount), weiPerEther)
	wei, _ := f.Int(nil)
	return wei
}

// EncodeUint256 ABI-encodes an unsigned integer as a 32-byte word.
func EncodeUint256(v *big.Int) string {
	return fmt.Sprintf("%064s", strings.TrimPrefix(v.Text(16), "-"))
}

// EncodeCall builds call data from a 4-byte selector and pre-encoded words.
func EncodeCall(selector string, words ...string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(selector))
	for _, w := range words {
		b.WriteString(strings.ToLower(w))
	}
	return b.String()
}

// DecodeUint256 parses a single 32-byte return word into a big integer.
func DecodeUint256(result string) (*big.Int, error) {
	t := strings.TrimPrefix(strings.ToLower(result), "0x")
	if t == "" {
		return nil, fmt.Errorf("empty call result")
	}
	if len(t) > 64 {
		t = t[:64]
	}
	v, ok := new(big.Int).SetString(t, 16)
	if !ok {
		return nil, fmt.Errorf("parse call result %q", result)
	}
	return v, nil
}
