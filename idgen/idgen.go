// Package idgen provides pluggable ID generation for OmniFetch.
//
// Constructors accept a Generator so the ID strategy is a startup-time
// decision: short base-36 tokens for blueprints, UUIDv7 for request ids.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// maxUnbiased is the largest multiple of len(alphabet) that fits in a byte.
const maxUnbiased = 256 - 256%len(alphabet)

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Bytes above maxUnbiased are rejected so every character is equally likely.
func NanoID(length int) Generator {
	return func() string {
		b := make([]byte, 0, length)
		buf := make([]byte, length*2)
		for len(b) < length {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			for _, c := range buf {
				if int(c) >= maxUnbiased {
					continue
				}
				b = append(b, alphabet[int(c)%len(alphabet)])
				if len(b) == length {
					break
				}
			}
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Blueprint is the generator for blueprint identifiers: "api-" followed by
// eight base-36 characters, e.g. "api-k3x9q0ab".
var Blueprint Generator = Prefixed("api-", NanoID(8))

// Default is used for request ids.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
