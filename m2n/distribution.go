package m2n

import "sort"

// A VertexDistribution maps, for each rank of one participant, local vertex
// index to global vertex ID. It is exchanged once at connection time and is
// immutable for the rest of the session.
type VertexDistribution [][]int

// RankCount returns the number of ranks the distribution describes.
func (d VertexDistribution) RankCount() int { return len(d) }

// TotalVertices returns the number of vertices over all ranks.
func (d VertexDistribution) TotalVertices() int {
	total := 0
	for _, ids := range d {
		total += len(ids)
	}

	return total
}

// Counts returns the per-rank vertex counts.
func (d VertexDistribution) Counts() []int {
	counts := make([]int, len(d))
	for r, ids := range d {
		counts[r] = len(ids)
	}

	return counts
}

// flatten serializes the distribution as the per-rank counts followed by
// the concatenated IDs, the layout used on the wire during session setup.
func (d VertexDistribution) flatten() (counts, flat []int) {
	counts = d.Counts()

	flat = make([]int, 0, d.TotalVertices())
	for _, ids := range d {
		flat = append(flat, ids...)
	}

	return counts, flat
}

// unflatten rebuilds a distribution from its wire layout.
func unflatten(counts, flat []int) VertexDistribution {
	d := make(VertexDistribution, len(counts))

	offset := 0
	for r, n := range counts {
		d[r] = append([]int(nil), flat[offset:offset+n]...)
		offset += n
	}

	return d
}

// globalOrdering returns the sorted set of all global IDs in the
// distribution and the position of each ID within it. Both participants
// cover the same global vertex set of the shared mesh, so the ordering is
// identical on both sides and fixes the layout of the gathered buffer.
func (d VertexDistribution) globalOrdering() (ids []int, pos map[int]int) {
	pos = make(map[int]int)

	for _, rankIDs := range d {
		for _, id := range rankIDs {
			if _, seen := pos[id]; !seen {
				pos[id] = 0
				ids = append(ids, id)
			}
		}
	}

	sort.Ints(ids)
	for i, id := range ids {
		pos[id] = i
	}

	return ids, pos
}

// overlap returns the global IDs present in both id lists, sorted
// ascending. Sender and receiver compute the same list independently, so a
// point-to-point message needs no routing metadata.
func overlap(a, b []int) []int {
	inA := make(map[int]struct{}, len(a))
	for _, id := range a {
		inA[id] = struct{}{}
	}

	var out []int
	for _, id := range b {
		if _, ok := inA[id]; ok {
			out = append(out, id)
		}
	}

	sort.Ints(out)

	return out
}
