// Package identity provides deterministic content-hash derivation and
// timestamp normalization (spec §4.1). Hashing intentionally excludes
// metadata so retagging a memory never changes its identity — the
// previous metadata-folded-into-hash behavior is deprecated and must not be
// reproduced (P1).
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ContentHash returns the lowercase hex SHA-256 of content's exact bytes.
// metadata is accepted for call-site symmetry with historical callers but is
// never folded into the digest.
func ContentHash(content string, _ map[string]interface{}) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Now returns the current time as seconds since epoch (UTC, microsecond
// resolution).
func Now() float64 {
	return float64(time.Now().UTC().UnixMicro()) / 1_000_000.0
}

// ToISO renders an epoch-seconds float as RFC 3339 with a "Z" suffix. The
// result is always derived, never authoritative.
func ToISO(epochSeconds float64) string {
	sec := int64(epochSeconds)
	nsec := int64((epochSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

// FromISO parses an RFC 3339 timestamp into epoch seconds.
func FromISO(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("identity: invalid RFC3339 timestamp %q: %w", s, err)
	}
	return float64(t.UnixNano()) / 1e9, nil
}

// Stamp returns the current time as an (epoch seconds, RFC 3339) pair.
// Callers assign it to CreatedAt/CreatedAtISO and UpdatedAt/UpdatedAtISO
// themselves, so the epoch/ISO pairing is not reimplemented per Store path.
func Stamp() (epoch float64, iso string) {
	epoch = Now()
	return epoch, ToISO(epoch)
}
