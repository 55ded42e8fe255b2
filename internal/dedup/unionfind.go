package dedup

// disjointSet is a union-find over item indices. The smaller index wins a rank tie, so
// the final partition never depends on the order unions are applied in.
type disjointSet struct {
	parent []int
	rank   []uint8
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{
		parent: make([]int, n),
		rank:   make([]uint8, n),
	}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	root := x
	for ds.parent[root] != root {
		root = ds.parent[root]
	}
	for ds.parent[x] != root {
		next := ds.parent[x]
		ds.parent[x] = root
		x = next
	}
	return root
}

func (ds *disjointSet) union(a, b int) bool {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return false
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ra, rb = rb, ra
	case ds.rank[ra] == ds.rank[rb]:
		if rb < ra {
			ra, rb = rb, ra
		}
		ds.rank[ra]++
	}
	ds.parent[rb] = ra
	return true
}

// groups returns the members of every set, each in ascending index order, with sets
// ordered by their smallest member.
func (ds *disjointSet) groups() [][]int {
	byRoot := make(map[int]int, len(ds.parent))
	var out [][]int
	for i := range ds.parent {
		root := ds.find(i)
		slot, ok := byRoot[root]
		if !ok {
			slot = len(out)
			byRoot[root] = slot
			out = append(out, nil)
		}
		out[slot] = append(out[slot], i)
	}
	return out
}
