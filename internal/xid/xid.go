// Package xid generates prefixed, roughly time-ordered identifiers for
// store rows (prod-, lot-, sale-, cust-, audit-).
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an id like "lot-1756712345678901234-a1b2c3d4e5f6a7b8". The
// nanosecond stamp keeps ids sortable by creation; the random tail makes
// collisions across processes practically impossible.
func New(prefix string) string {
	stamp := time.Now().UTC().UnixNano()
	tail := make([]byte, 8)
	if _, err := rand.Read(tail); err != nil {
		return fmt.Sprintf("%s-%d", prefix, stamp)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, stamp, hex.EncodeToString(tail))
}
