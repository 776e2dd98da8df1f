// Package ratelimit implements the gateway's admission control: a per-class
// fixed-window request limiter and a progressive per-address blocker.
package ratelimit

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// unknownAgent is the sentinel used when a request carries no User-Agent.
const unknownAgent = "unknown"

// fingerprintLen bounds the fingerprint to 10 hex characters.
const fingerprintLen = 10

// Fingerprint derives a short digest of the User-Agent header. It bounds the
// cardinality of the limiter keyspace; it is not an identity guarantee and
// collisions are acceptable.
func Fingerprint(userAgent string) string {
	if userAgent == "" {
		userAgent = unknownAgent
	}

	sum := strconv.FormatUint(xxhash.Sum64String(userAgent), 16)
	if len(sum) > fingerprintLen {
		sum = sum[:fingerprintLen]
	}
	return sum
}

// Key builds the composite limiter key for a request:
// class:address:fingerprint.
func Key(class, addr, userAgent string) string {
	return class + ":" + addr + ":" + Fingerprint(userAgent)
}
