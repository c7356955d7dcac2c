// Package fingerprint derives a stable device/context digest used to detect
// token sharing across devices. The digest is an anomaly-detection signal,
// not an authentication factor: it carries no secret material.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const bucketMillis = 3_600_000

// CurrentHourBucket returns the coarse time bucket for now:
// floor(unixMillis / 1h). Tokens embed the bucket at issuance so the
// fingerprint stays stable for the token's lifetime while still changing
// across reissuances.
func CurrentHourBucket(now time.Time) int64 {
	return now.UnixMilli() / bucketMillis
}

// Compute hashes the request attributes and hour bucket into a fixed-length
// hex digest. Same inputs and same bucket always yield the same digest.
func Compute(userAgent, acceptLanguage, clientIP string, hourBucket int64) string {
	var b strings.Builder
	b.WriteString(userAgent)
	b.WriteByte('|')
	b.WriteString(acceptLanguage)
	b.WriteByte('|')
	b.WriteString(clientIP)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(hourBucket, 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
