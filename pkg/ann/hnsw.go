// Package ann provides an approximate nearest neighbor index over chunk
// embeddings. The graph is a standard HNSW built for cosine similarity:
// vectors are unit normalized at insert, so cosine distance reduces to
// 1 - dot product.
package ann

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// Config holds index construction parameters.
type Config struct {
	// Dim is the embedding dimensionality. Vectors of any other length
	// are rejected at insert.
	Dim int

	// MaxElements caps the number of vectors the index will accept.
	MaxElements int

	// M is the number of bidirectional links per node on upper layers.
	// Layer 0 allows 2*M.
	M int

	// EfConstruction is the candidate list size during insertion.
	EfConstruction int

	// EfSearch is the candidate list size during queries. Should exceed k
	// for good recall.
	EfSearch int
}

// DefaultConfig mirrors the construction parameters the rest of the
// pipeline is tuned for.
func DefaultConfig(dim int) Config {
	return Config{
		Dim:            dim,
		MaxElements:    10000,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
	}
}

type node struct {
	vec       []float32
	level     int
	neighbors [][]int32
}

// Index is an in-memory HNSW graph plus the chunks it indexes. Labels are
// assigned densely in insertion order, so node i corresponds to chunks[i].
type Index struct {
	cfg Config

	mu       sync.RWMutex
	nodes    []*node
	chunks   []*store.Chunk
	entry    int
	maxLevel int
	ready    bool

	rng       *rand.Rand
	levelMult float64
}

// New creates an empty index.
func New(cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction < cfg.M {
		cfg.EfConstruction = cfg.M * 4
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	return &Index{
		cfg: cfg,
		// Fixed seed keeps level assignment, and therefore the graph,
		// reproducible across builds of the same corpus.
		rng:       rand.New(rand.NewSource(42)),
		levelMult: 1.0 / math.Log(float64(cfg.M)),
	}
}

// Size returns the number of indexed chunks.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Ready reports whether the index holds at least one vector.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready && len(ix.chunks) > 0
}

// AddChunks inserts every chunk that carries an embedding. Chunks without
// one are skipped. Returns false only when nothing could be inserted.
func (ix *Index) AddChunks(chunks []*store.Chunk) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := 0
	for _, c := range chunks {
		if c == nil || len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != ix.cfg.Dim {
			util.Debugf(util.DebugSummary, "ann: skipping %q, got %d dims want %d",
				c.Source, len(c.Embedding), ix.cfg.Dim)
			continue
		}
		if ix.cfg.MaxElements > 0 && len(ix.nodes) >= ix.cfg.MaxElements {
			util.Debugf(util.DebugSummary, "ann: index full at %d elements", len(ix.nodes))
			break
		}

		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		normalize(vec)

		ix.insert(vec)
		ix.chunks = append(ix.chunks, c)
		added++
	}

	if added == 0 {
		util.Debugf(util.DebugSummary, "ann: no valid embeddings to add")
		return false
	}
	ix.ready = true
	util.Debugf(util.DebugDetailed, "ann: added %d chunks, index size %d", added, len(ix.chunks))
	return true
}

// Search returns up to k chunks nearest to query, each annotated with a
// similarity score in [0, 1]. An empty or unbuilt index yields an empty
// result, not an error.
func (ix *Index) Search(query []float32, k int) []*store.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.ready || len(ix.chunks) == 0 || len(query) != ix.cfg.Dim {
		return nil
	}
	if k > len(ix.chunks) {
		k = len(ix.chunks)
	}
	if k <= 0 {
		return nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	cur := ix.entry
	for l := ix.maxLevel; l > 0; l-- {
		cur = ix.greedyClosest(q, cur, l)
	}

	ef := ix.cfg.EfSearch
	if ef < k {
		ef = k
	}
	found := ix.searchLayer(q, cur, ef, 0)
	if len(found) > k {
		found = found[:k]
	}

	out := make([]*store.Chunk, 0, len(found))
	for _, c := range found {
		chunk := ix.chunks[c.id]
		chunk.SetScore(store.ScoreSimilarity, 1.0-float64(c.dist))
		out = append(out, chunk)
	}
	return out
}

func (ix *Index) randomLevel() int {
	return int(math.Floor(-math.Log(ix.rng.Float64()) * ix.levelMult))
}

func (ix *Index) maxConns(layer int) int {
	if layer == 0 {
		return ix.cfg.M * 2
	}
	return ix.cfg.M
}

func (ix *Index) dist(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func (ix *Index) insert(vec []float32) {
	id := len(ix.nodes)
	level := ix.randomLevel()
	n := &node{vec: vec, level: level, neighbors: make([][]int32, level+1)}
	ix.nodes = append(ix.nodes, n)

	if id == 0 {
		ix.entry = 0
		ix.maxLevel = level
		return
	}

	cur := ix.entry
	for l := ix.maxLevel; l > level; l-- {
		cur = ix.greedyClosest(vec, cur, l)
	}

	top := level
	if top > ix.maxLevel {
		top = ix.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := ix.searchLayer(vec, cur, ix.cfg.EfConstruction, l)
		sel := cands
		if len(sel) > ix.cfg.M {
			sel = sel[:ix.cfg.M]
		}
		for _, c := range sel {
			n.neighbors[l] = append(n.neighbors[l], int32(c.id))
			nb := ix.nodes[c.id]
			nb.neighbors[l] = append(nb.neighbors[l], int32(id))
			if len(nb.neighbors[l]) > ix.maxConns(l) {
				ix.prune(nb, l)
			}
		}
		if len(cands) > 0 {
			cur = cands[0].id
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entry = id
	}
}

// prune trims a node's neighbor list on the given layer back to the
// connection limit, keeping the closest links.
func (ix *Index) prune(n *node, layer int) {
	limit := ix.maxConns(layer)
	links := n.neighbors[layer]
	sort.Slice(links, func(i, j int) bool {
		return ix.dist(n.vec, ix.nodes[links[i]].vec) < ix.dist(n.vec, ix.nodes[links[j]].vec)
	})
	n.neighbors[layer] = links[:limit]
}

// greedyClosest walks a single layer toward query, stopping at a local
// minimum.
func (ix *Index) greedyClosest(query []float32, entry, layer int) int {
	cur := entry
	curDist := ix.dist(query, ix.nodes[cur].vec)
	for {
		improved := false
		n := ix.nodes[cur]
		if layer < len(n.neighbors) {
			for _, nb := range n.neighbors[layer] {
				if d := ix.dist(query, ix.nodes[nb].vec); d < curDist {
					cur, curDist = int(nb), d
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

type candidate struct {
	id   int
	dist float32
}

// searchLayer runs the beam search on one layer and returns up to ef
// candidates sorted by ascending distance.
func (ix *Index) searchLayer(query []float32, entry, ef, layer int) []candidate {
	start := candidate{id: entry, dist: ix.dist(query, ix.nodes[entry].vec)}
	visited := map[int]bool{entry: true}

	cands := &minHeap{start}
	results := &maxHeap{start}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		n := ix.nodes[c.id]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nbID := range n.neighbors[layer] {
			nb := int(nbID)
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := ix.dist(query, ix.nodes[nb].vec)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(cands, candidate{id: nb, dist: d})
				heap.Push(results, candidate{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	inv := float32(1 / norm)
	for i := range v {
		v[i] *= inv
	}
}
