package trustledger

import "github.com/jmerrifield20/IntegrityLedger/internal/canonical"

// EmptyRoot is the Merkle root of a ledger with no entries: the SHA-256 of
// the empty string.
var EmptyRoot = canonical.HashBytes(nil)

// combine hashes the concatenation of two hex digests.
func combine(left, right string) string {
	return canonical.HashBytes([]byte(left + right))
}

// MerkleRoot computes the root over an ordered list of hex leaf hashes.
//
// Leaves are paired left to right and each pair is replaced by the SHA-256 of
// the concatenated hex strings. An unpaired trailing node is promoted to the
// next level unchanged. A single leaf is its own root.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return EmptyRoot
	}
	level := append([]string(nil), hashes...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, combine(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// peak is the root of a perfect subtree of size leaves.
type peak struct {
	hash string
	size int
}

// accumulator maintains the root of MerkleRoot incrementally. The tree over
// n leaves decomposes into perfect subtrees whose sizes are the set bits of
// n, largest first; the overall root folds those peaks from the right. Each
// Add is O(log n).
type accumulator struct {
	peaks []peak
	count int
}

func (a *accumulator) Add(leaf string) {
	a.peaks = append(a.peaks, peak{hash: leaf, size: 1})
	a.count++
	for n := len(a.peaks); n >= 2 && a.peaks[n-1].size == a.peaks[n-2].size; n = len(a.peaks) {
		merged := peak{hash: combine(a.peaks[n-2].hash, a.peaks[n-1].hash), size: a.peaks[n-1].size * 2}
		a.peaks = append(a.peaks[:n-2], merged)
	}
}

func (a *accumulator) Root() string {
	if len(a.peaks) == 0 {
		return EmptyRoot
	}
	root := a.peaks[len(a.peaks)-1].hash
	for i := len(a.peaks) - 2; i >= 0; i-- {
		root = combine(a.peaks[i].hash, root)
	}
	return root
}

// RootWith returns the root the accumulator would have after adding leaf,
// without modifying it.
func (a *accumulator) RootWith(leaf string) string {
	tmp := accumulator{peaks: append([]peak(nil), a.peaks...), count: a.count}
	tmp.Add(leaf)
	return tmp.Root()
}

func (a *accumulator) Len() int { return a.count }
