package vector

import "sort"

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Similarity converts a squared L2 distance to a similarity score, 1 - d/2. For unit vectors
// this is the cosine similarity. The result is not clamped.
func Similarity(distance float32) float64 {
	return 1 - float64(distance)/2
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Slot < ns[j].Slot
	})
}

// rankSlots computes exact distances from query to the given slots and keeps the best k.
func rankSlots(query []float32, vectors [][]float32, slots []int, k int) []Neighbor {
	ns := make([]Neighbor, len(slots))
	for i, slot := range slots {
		ns[i] = Neighbor{Slot: slot, Distance: SquaredL2(query, vectors[slot])}
	}
	sortNeighbors(ns)
	if k < len(ns) {
		ns = ns[:k]
	}
	return ns
}
