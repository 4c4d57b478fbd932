package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

func CalculateString(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Fingerprint folds an ordered list of record hashes into a single Merkle root.
// Leaf order is significant: the same hashes in a different order give a
// different fingerprint, so a reordered chain never matches a checkpoint.
func Fingerprint(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, CalculateString(level[i]+right))
		}
		level = next
	}

	return level[0]
}
