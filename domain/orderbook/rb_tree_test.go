package orderbook

import (
	"math/rand"
	"testing"
)

func TestRBTreeInsertFindDelete(t *testing.T) {
	tree := NewRBTree()
	pl1, created := tree.UpsertLevel(100, 100)
	if pl1 == nil || !created {
		t.Fatal("UpsertLevel failed")
	}
	if pl2 := tree.FindLevel(100); pl2 != pl1 {
		t.Error("FindLevel did not return same PriceLevel")
	}

	tree.UpsertLevel(200, 200)
	if tree.MinLevel().Price != 100 {
		t.Error("expected min=100")
	}
	if tree.Size() != 2 {
		t.Errorf("expected 2 levels, got %d", tree.Size())
	}

	if !tree.DeleteLevel(100) {
		t.Error("DeleteLevel failed")
	}
	if tree.FindLevel(100) != nil {
		t.Error("expected level 100 to be gone")
	}
}

// --- Edge Cases ---

func TestDeleteNonExistentLevel(t *testing.T) {
	tree := NewRBTree()
	if tree.DeleteLevel(123) {
		t.Error("expected false when deleting non-existent level")
	}
}

func TestEmptyTreeMin(t *testing.T) {
	tree := NewRBTree()
	if tree.MinLevel() != nil {
		t.Error("expected nil min on empty tree")
	}
}

func TestUpsertDuplicateLevel(t *testing.T) {
	tree := NewRBTree()
	pl1, _ := tree.UpsertLevel(150, 150)
	pl2, created := tree.UpsertLevel(150, 150)
	if pl1 != pl2 || created {
		t.Error("Upsert should return the same node for duplicate level")
	}
}

func TestNegatedKeysIterateHighestPriceFirst(t *testing.T) {
	tree := NewRBTree()
	for _, p := range []int64{101, 99, 105, 100} {
		tree.UpsertLevel(-p, p)
	}
	var got []int64
	tree.ForEachAscending(func(pl *PriceLevel) bool {
		got = append(got, pl.Price)
		return true
	})
	want := []int64{105, 101, 100, 99}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRBTreeRandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := NewRBTree()
	live := map[int64]bool{}

	for i := 0; i < 5000; i++ {
		k := rng.Int63n(500)
		if rng.Intn(3) == 0 {
			if tree.DeleteLevel(k) != live[k] {
				t.Fatalf("delete %d disagreed with model", k)
			}
			delete(live, k)
		} else {
			tree.UpsertLevel(k, k)
			live[k] = true
		}
		if i%250 == 0 {
			checkRB(t, tree)
		}
	}
	checkRB(t, tree)

	if tree.Size() != len(live) {
		t.Fatalf("size = %d, want %d", tree.Size(), len(live))
	}
	prev := int64(-1)
	tree.ForEachAscending(func(pl *PriceLevel) bool {
		if pl.Price <= prev {
			t.Fatalf("iteration out of order: %d after %d", pl.Price, prev)
		}
		prev = pl.Price
		return true
	})
}

// checkRB verifies a black root, no red-red edges and equal black height.
func checkRB(t *testing.T, tree *RBTree) {
	t.Helper()
	if tree.root.color != black {
		t.Fatal("root is not black")
	}
	var walk func(n *node) int
	walk = func(n *node) int {
		if n == tree.nil {
			return 1
		}
		if n.color == red && (n.left.color == red || n.right.color == red) {
			t.Fatalf("red node %d has red child", n.key)
		}
		l, r := walk(n.left), walk(n.right)
		if l != r {
			t.Fatalf("black height mismatch at %d: %d vs %d", n.key, l, r)
		}
		if n.color == black {
			return l + 1
		}
		return l
	}
	walk(tree.root)
}
