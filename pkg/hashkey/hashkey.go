// Package hashkey maps arbitrary file paths to short, balanced KVS topic
// keys. The mapping must be a pure function of (path, depth, bins) and must
// produce byte-identical output on every rank in a job: it is the wire
// contract that lets an independently-running producer and consumer agree
// on a key without ever talking to each other first.
package hashkey

import (
	"fmt"
	"strings"
)

// seeds is the fixed per-level seed schedule. Each tree level re-hashes the
// same path with a different seed so that sibling levels are decorrelated;
// the schedule itself, and the "57 +" offset, are part of the wire contract
// and must never change once a job depends on them.
var seeds = [10]uint32{
	104677, 104681, 104683, 104693, 104701,
	104707, 104711, 104717, 104723, 104729,
}

// MaxDepth is the number of distinct per-level seeds. Key does not reject a
// deeper key_depth: beyond MaxDepth levels the seed schedule repeats
// (level i uses seeds[i mod MaxDepth]).
const MaxDepth = len(seeds)

// GenPathKey mirrors the fixed-buffer C signature this algorithm originates
// from (path, out_cap, depth, bins) -> key. It exists mainly so Go callers
// with the same depth/bins pair as a C sibling can confirm they produce the
// same bytes; Go code should generally call Key instead.
func GenPathKey(path string, outCap int, depth, bins uint32) (out string, err error) {
	key, err := Key(path, depth, bins)
	if err != nil {
		return "", err
	}
	if len(key)+1 > outCap {
		return "", fmt.Errorf("hashkey: key of length %d exceeds out_cap %d", len(key), outCap)
	}
	return key, nil
}

// Key computes the topic key "b0.b1....b(depth-1).<path>" for path, where
// each bi is the lowercase hex value of the xor-fold of a 128-bit
// MurmurHash3 x64 hash of path, seeded per level, reduced mod bins.
//
// Key is a pure function: identical inputs always produce identical output,
// in this process and in any other process that links this package.
func Key(path string, depth, bins uint32) (string, error) {
	if depth < 1 {
		return "", fmt.Errorf("hashkey: depth must be >= 1, got %d", depth)
	}
	if bins < 1 {
		return "", fmt.Errorf("hashkey: bins must be >= 1, got %d", bins)
	}

	data := []byte(path)
	var b strings.Builder
	for i := uint32(0); i < depth; i++ {
		seed := uint64(57) + uint64(seeds[int(i)%len(seeds)])
		h1, h2 := murmur3X64_128(data, seed)

		w0 := uint32(h1)
		w1 := uint32(h1 >> 32)
		w2 := uint32(h2)
		w3 := uint32(h2 >> 32)
		folded := (w0 ^ w1 ^ w2 ^ w3) % bins

		fmt.Fprintf(&b, "%x.", folded)
	}
	b.WriteString(path)
	return b.String(), nil
}
