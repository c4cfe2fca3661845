package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AddressFingerprint returns a short stable digest of a client address so
// audit records can be correlated without storing the address itself.
func AddressFingerprint(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:6])
}
