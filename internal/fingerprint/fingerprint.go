// Package fingerprint computes the stable equality key used by dedup,
// aggregation, and first-seen tracking (§3.2).
package fingerprint

import (
	"hash/fnv"
	"strings"
)

var quoteSuffixes = []string{"USDT", "USDC", "USD", "BTC", "ETH", "BNB"}

// Normalize strips quote-pair suffixes and non-alphanumerics from a raw
// token symbol and uppercases the result.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s = b.String()

	for _, suf := range quoteSuffixes {
		if len(s) > len(suf) && strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}
	return s
}

// Compute returns the 16-hex-char fingerprint for (exchange, symbol,
// eventType). It is stable across processes and runs.
func Compute(exchange, symbol, eventType string) string {
	key := strings.ToLower(exchange) + "|" + Normalize(symbol) + "|" + strings.ToLower(eventType)
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return hash16(h.Sum64())
}

func hash16(v uint64) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexdigits[v&0xf]
		v >>= 4
	}
	return string(b)
}
