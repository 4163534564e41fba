package service

import (
	"crypto/rand"
	"math/big"
)

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()"

// GeneratePassword returns a random login secret of the given length.
func GeneratePassword(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(passwordChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is
			// broken; there is no reasonable recovery here.
			panic(err)
		}
		buf[i] = passwordChars[n.Int64()]
	}
	return string(buf)
}
