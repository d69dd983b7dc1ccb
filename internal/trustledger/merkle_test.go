package trustledger

import (
	"fmt"
	"testing"

	"github.com/jmerrifield20/IntegrityLedger/internal/canonical"
)

func leaf(i int) string { return canonical.HashBytes([]byte(fmt.Sprintf("leaf-%d", i))) }

func TestMerkleRoot_smallTrees(t *testing.T) {
	a, b, c := leaf(0), leaf(1), leaf(2)

	cases := []struct {
		name   string
		leaves []string
		want   string
	}{
		{"empty", nil, canonical.HashBytes([]byte(""))},
		{"single", []string{a}, a},
		{"pair", []string{a, b}, canonical.HashBytes([]byte(a + b))},
		// The odd node is promoted, not duplicated.
		{"three", []string{a, b, c}, canonical.HashBytes([]byte(canonical.HashBytes([]byte(a+b)) + c))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MerkleRoot(tc.leaves); got != tc.want {
				t.Errorf("MerkleRoot = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMerkleRoot_doesNotModifyInput(t *testing.T) {
	in := []string{leaf(0), leaf(1), leaf(2)}
	cp := append([]string(nil), in...)
	MerkleRoot(in)
	for i := range in {
		if in[i] != cp[i] {
			t.Fatalf("input modified at %d", i)
		}
	}
}

func TestAccumulator_matchesFullRecomputation(t *testing.T) {
	var acc accumulator
	var leaves []string
	if acc.Root() != EmptyRoot {
		t.Fatal("empty accumulator root mismatch")
	}
	for i := range 130 {
		l := leaf(i)
		preview := acc.RootWith(l)
		acc.Add(l)
		leaves = append(leaves, l)

		want := MerkleRoot(leaves)
		if got := acc.Root(); got != want {
			t.Fatalf("n=%d: accumulator root %s, want %s", i+1, got, want)
		}
		if preview != want {
			t.Fatalf("n=%d: RootWith %s, want %s", i+1, preview, want)
		}
	}
	if acc.Len() != 130 {
		t.Errorf("Len = %d", acc.Len())
	}
}
