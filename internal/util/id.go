// Package util holds small helpers shared across the engine.
package util

import (
	"crypto/rand"
	"fmt"
)

// idEntropy is the random width behind every generated identifier. 12 bytes
// keep content keys short enough to read inside a git ref name while staying
// collision-free at wiki scale.
const idEntropy = 12

// NewID returns a prefixed random identifier such as "page_52fdfc072182654f".
// The prefix marks what kind of object the id names and may be empty.
func NewID(prefix string) string {
	buf := make([]byte, idEntropy)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	if prefix == "" {
		return fmt.Sprintf("%x", buf)
	}
	return fmt.Sprintf("%s_%x", prefix, buf)
}
