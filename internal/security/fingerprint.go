package security

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
)

const minClientDeviceIDLen = 8

// SessionFingerprint is the stable hash stored on session records.
func SessionFingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ip))
	return hex.EncodeToString(sum[:])
}

// DeviceID returns the client-supplied id when it is long enough, otherwise a
// short rolling hash of user agent and ip.
func DeviceID(clientDeviceID, userAgent, ip string) string {
	if id := strings.TrimSpace(clientDeviceID); len(id) >= minClientDeviceIDLen {
		return id
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(userAgent))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(ip))
	return "fp_" + hex.EncodeToString(h.Sum(nil))
}

// UserAgentDigest is the first 16 hex chars of sha256(userAgent).
func UserAgentDigest(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:16]
}
