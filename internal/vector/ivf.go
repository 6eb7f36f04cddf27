package vector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

const kmeansIterations = 20

// IVFIndex is an inverted-file index: vectors are bucketed under their nearest k-means
// centroid and a query scans only the nprobe closest buckets. Training happens on the first
// added batch unless Train was called before.
type IVFIndex struct {
	dimensions int
	nlist      int
	nprobe     int
	centroids  [][]float32
	lists      [][]int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewIVFIndex creates an untrained IVF index.
func NewIVFIndex(dimensions, nlist, nprobe int) (*IVFIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	p := Params{NList: nlist, NProbe: nprobe}.WithDefaults(KindIVF)
	return &IVFIndex{dimensions: dimensions, nlist: p.NList, nprobe: p.NProbe}, nil
}

func (x *IVFIndex) Type() string    { return string(BackendNative) }
func (x *IVFIndex) Kind() Kind      { return KindIVF }
func (x *IVFIndex) Dimensions() int { return x.dimensions }

// IsTrained reports whether centroids exist.
func (x *IVFIndex) IsTrained() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.centroids) > 0
}

// Train computes centroids from samples and re-buckets any stored vectors. With fewer samples
// than nlist, one centroid per sample is used.
func (x *IVFIndex) Train(ctx context.Context, samples [][]float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("no training samples")
	}
	if err := validateBatch(samples, x.dimensions); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.trainLocked(samples)
	return nil
}

func (x *IVFIndex) trainLocked(samples [][]float32) {
	x.centroids = trainKMeans(samples, x.nlist, kmeansIterations)
	x.lists = make([][]int, len(x.centroids))
	for slot, v := range x.vectors {
		c := nearestCentroid(x.centroids, v)
		x.lists[c] = append(x.lists[c], slot)
	}
}

// Add appends vectors, training on this batch first when the index is untrained.
func (x *IVFIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := validateBatch(vectors, x.dimensions); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.centroids) == 0 {
		x.trainLocked(vectors)
	}
	for _, v := range vectors {
		slot := len(x.vectors)
		x.vectors = append(x.vectors, cloneVector(v))
		c := nearestCentroid(x.centroids, v)
		x.lists[c] = append(x.lists[c], slot)
	}
	return nil
}

// Search probes the nprobe nearest cells. When those cells hold fewer than min(k, size)
// vectors, further cells are probed in centroid order until enough candidates are found.
func (x *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := validateQuery(query, x.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := len(x.vectors)
	if k <= 0 || n == 0 {
		return nil, nil
	}
	want := k
	if want > n {
		want = n
	}
	order := make([]int, len(x.centroids))
	dists := make([]float32, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = i
		dists[i] = SquaredL2(query, c)
	}
	sort.SliceStable(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	var candidates []int
	for probed, c := range order {
		if probed >= x.nprobe && len(candidates) >= want {
			break
		}
		candidates = append(candidates, x.lists[c]...)
	}
	return rankSlots(query, x.vectors, candidates, k), nil
}

// Save writes the header, nprobe, the centroids, and the raw vectors. Cell membership is
// recomputed on load.
func (x *IVFIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return saveBlob(path, func(w io.Writer) error {
		if err := writeHeader(w, blobHeader{kind: KindIVF, dimensions: x.dimensions, count: len(x.vectors)}); err != nil {
			return err
		}
		if err := writeUint32s(w, uint32(x.nlist), uint32(x.nprobe), uint32(len(x.centroids))); err != nil {
			return err
		}
		if err := writeVectors(w, x.centroids); err != nil {
			return err
		}
		return writeVectors(w, x.vectors)
	})
}

// Load replaces the contents with the blob at path.
func (x *IVFIndex) Load(path string) error {
	var (
		nlist, nprobe int
		centroids     [][]float32
		vectors       [][]float32
	)
	err := loadBlob(path, func(r io.Reader) error {
		h, err := expectHeader(r, KindIVF, x.dimensions)
		if err != nil {
			return err
		}
		vals, err := readUint32s(r, 3)
		if err != nil {
			return err
		}
		nlist, nprobe = int(vals[0]), int(vals[1])
		if centroids, err = readVectors(r, int(vals[2]), h.dimensions); err != nil {
			return err
		}
		if len(centroids) == 0 && h.count > 0 {
			return fmt.Errorf("ivf blob has %d vectors but no centroids", h.count)
		}
		vectors, err = readVectors(r, h.count, h.dimensions)
		return err
	})
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nlist, x.nprobe = nlist, nprobe
	x.centroids = centroids
	x.vectors = vectors
	x.lists = make([][]int, len(centroids))
	for slot, v := range vectors {
		c := nearestCentroid(centroids, v)
		x.lists[c] = append(x.lists[c], slot)
	}
	return nil
}

// Reset drops vectors and centroids; the next Add retrains.
func (x *IVFIndex) Reset() {
	x.mu.Lock()
	x.vectors, x.centroids, x.lists = nil, nil, nil
	x.mu.Unlock()
}

// Size returns the number of vectors in the index.
func (x *IVFIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Close is a no-op for IVFIndex.
func (x *IVFIndex) Close() error {
	return nil
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best, bestDist := 0, SquaredL2(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := SquaredL2(v, centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// trainKMeans runs Lloyd's algorithm seeded with evenly spaced samples, so the same samples
// always produce the same centroids. Cells that lose every member keep their last centroid.
func trainKMeans(samples [][]float32, k, iterations int) [][]float32 {
	if k > len(samples) {
		k = len(samples)
	}
	dim := len(samples[0])
	centroids := make([][]float32, k)
	step := float64(len(samples)) / float64(k)
	for i := range centroids {
		centroids[i] = cloneVector(samples[int(float64(i)*step)])
	}
	assign := make([]int, len(samples))
	for i := range assign {
		assign[i] = -1
	}
	for it := 0; it < iterations; it++ {
		changed := false
		for i, s := range samples {
			c := nearestCentroid(centroids, s)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, s := range samples {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			for d, v := range s {
				sums[c][d] += float64(v)
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}
	return centroids
}
