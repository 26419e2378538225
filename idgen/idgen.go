// Package idgen provides the identifier strategies used by docpeek:
// short URL-safe nonces for blob handles and session IDs, and time-sortable
// UUIDv7 values for history rows.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator of base-36 IDs of the given length. Safe to
// embed in URL paths without escaping.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed type prefix ("ses_", "dsp_") to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Session is the generator for viewer session IDs.
var Session = Prefixed("ses_", NanoID(16))

// Default is used for persisted rows.
var Default = UUIDv7()

// New produces an ID using Default.
func New() string {
	return Default()
}
