package security

import (
	"crypto/rand"
	"io"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	return b, err
}

// MeetingCode returns n uppercase base36 characters without modulo bias.
func MeetingCode(n int) (string, error) {
	const limit = 252 // 7*36
	out := make([]byte, 0, n)
	for len(out) < n {
		buf, err := RandomBytes(n)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
