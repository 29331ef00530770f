// Package apikey guards service routes with static shared keys.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

const DefaultHeader = "X-API-Key"

// Gate checks presented keys against the configured set. Keys are treated as
// secrets: every candidate is compared in constant time and the loop never
// exits early, so timing reveals neither which key matched nor its length.
type Gate struct {
	digests [][sha256.Size]byte
}

func NewGate(keys []string) *Gate {
	g := &Gate{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		g.digests = append(g.digests, sha256.Sum256([]byte(k)))
	}
	return g
}

func (g *Gate) Check(presented string) bool {
	if presented == "" {
		return false
	}
	d := sha256.Sum256([]byte(presented))
	match := 0
	for i := range g.digests {
		match |= subtle.ConstantTimeCompare(d[:], g.digests[i][:])
	}
	return match == 1
}

// Len returns the number of configured keys.
func (g *Gate) Len() int { return len(g.digests) }
