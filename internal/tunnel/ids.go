package tunnel

import (
	"crypto/rand"
	"fmt"
)

const (
	minRendezvousLen = 6
	maxRendezvousLen = 8
	rendezvousChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// newRendezvousID returns a random 6 to 8 character lowercase alphanumeric
// token.
func newRendezvousID() (string, error) {
	var lb [1]byte
	if _, err := rand.Read(lb[:]); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	length := minRendezvousLen + int(lb[0])%(maxRendezvousLen-minRendezvousLen+1)
	return randomToken(length)
}

func randomToken(length int) (string, error) {
	const n = byte(len(rendezvousChars))
	// Rejection threshold avoids modulo bias: largest multiple of n <= 256.
	const maxFair = 256 - (256 % int(n))
	out := make([]byte, length)
	buf := make([]byte, length+16)
	filled := 0
	for filled < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxFair {
				continue
			}
			out[filled] = rendezvousChars[b%n]
			filled++
			if filled == length {
				break
			}
		}
	}
	return string(out), nil
}

// ValidRendezvousID reports whether id is usable as a socket name and URL
// path segment.
func ValidRendezvousID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
