package helpers

import (
	"crypto/rand"
	"math/big"
)

const (
	upperAlnum   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

func randomFrom(alphabet string, n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}

// GenerateGiftCode returns GC followed by 10 uppercase alphanumerics.
func GenerateGiftCode() string {
	return "GC" + randomFrom(upperAlnum, 10)
}

func GenerateServerCode() string {
	return "GS" + randomFrom(upperLetters, 6)
}
