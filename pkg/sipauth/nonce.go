package sipauth

import (
	"crypto/rand"
	"encoding/hex"
)

// generateNonce produces a fresh server nonce. Authentication nonces must
// be unpredictable (RFC 7616 §5.4), so this uses crypto/rand rather than
// the pack's non-cryptographic pion/randutil helper, which is meant for
// ICE ufrag/pwd and jitter, not security tokens.
func generateNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("sipauth: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
