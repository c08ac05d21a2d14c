// Package dedup detects near-duplicate snippets with minhash signatures over
// k-token shingles and a banded locality-sensitive hash index.
package dedup

import (
	"hash/fnv"
	"math"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

// Config mirrors config.DedupConfig.
type Config struct {
	ShingleSize int
	NumHashes   int
	Bands       int
	Threshold   float64
}

func DefaultConfig() Config {
	return Config{ShingleSize: 5, NumHashes: 64, Bands: 16, Threshold: 0.8}
}

func FromConfig(c config.DedupConfig) Config {
	return Config{ShingleSize: c.ShingleSize, NumHashes: c.NumHashes, Bands: c.Bands, Threshold: c.Threshold}
}

// Signature holds the minimum hash per seed. An empty signature means the
// snippet had no code tokens and never matches anything.
type Signature []uint64

// Fingerprint computes the minhash signature of the primary non-comment
// tokens. Comments are left out so re-commented copies still collide. Fewer
// tokens than the shingle size form a single shingle.
func Fingerprint(tokens []analysis.Token, cfg Config) Signature {
	units := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Primary && t.Class != analysis.ClassComment {
			units = append(units, t.Term)
		}
	}
	if len(units) == 0 || cfg.NumHashes <= 0 {
		return nil
	}
	k := cfg.ShingleSize
	if k <= 0 {
		k = 1
	}
	sig := make(Signature, cfg.NumHashes)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	shingles := len(units) - k + 1
	if shingles < 1 {
		shingles = 1
	}
	h := fnv.New64a()
	for i := 0; i < shingles; i++ {
		h.Reset()
		for j := i; j < i+k && j < len(units); j++ {
			h.Write([]byte(units[j]))
			h.Write([]byte{0x1f})
		}
		base := h.Sum64()
		for s := range sig {
			if v := mix(base, uint64(s)); v < sig[s] {
				sig[s] = v
			}
		}
	}
	return sig
}

// mix derives the seed-th independent hash of x (splitmix64 finalizer).
func mix(x, seed uint64) uint64 {
	z := x + (seed+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Similarity estimates the Jaccard similarity of the shingle sets behind two
// signatures.
func Similarity(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}
