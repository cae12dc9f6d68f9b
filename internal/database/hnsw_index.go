package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/rollmark/rollmark/internal/facematch"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// RosterIndex is an in-memory HNSW index over every stored reference face,
// used by the identify endpoint to find the nearest enrolled student without
// scanning the whole roster. It is rebuilt from the store at startup and
// kept current as enrollments append new faces.
type RosterIndex struct {
	graph    *hnsw.Graph[int64]
	idToFace map[int64]*ReferenceFace
	metric   facematch.Metric
	mu       sync.RWMutex
}

// NewRosterIndex creates an empty index using the given distance metric.
func NewRosterIndex(metric facematch.Metric) *RosterIndex {
	return &RosterIndex{
		idToFace: make(map[int64]*ReferenceFace),
		metric:   metric,
	}
}

func (idx *RosterIndex) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	if idx.metric == facematch.MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// Build replaces the index contents with the given reference faces.
func (idx *RosterIndex) Build(faces []ReferenceFace) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(faces) == 0 {
		idx.graph = nil
		idx.idToFace = make(map[int64]*ReferenceFace)
		return nil
	}

	g := idx.newGraph()
	idx.idToFace = make(map[int64]*ReferenceFace, len(faces))

	for i := range faces {
		face := &faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.ID, face.Embedding))
		idx.idToFace[face.ID] = face
	}

	idx.graph = g
	return nil
}

// Add inserts a single reference face, growing the graph lazily.
func (idx *RosterIndex) Add(face *ReferenceFace) {
	if len(face.Embedding) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph == nil {
		idx.graph = idx.newGraph()
	}
	idx.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
	idx.idToFace[face.ID] = face
}

// Search returns the k nearest reference faces to the query embedding,
// with exact distances recomputed under the configured metric (the graph's
// internal distances are only used for navigation).
func (idx *RosterIndex) Search(query []float32, k int) ([]ReferenceFace, []float64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil {
		return nil, nil, errors.New("roster index not built")
	}

	neighbors := idx.graph.Search(query, k)

	faces := make([]ReferenceFace, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		face := idx.idToFace[n.Key]
		if face == nil {
			continue
		}
		faces = append(faces, *face)
		distances = append(distances, facematch.Distance(idx.metric, query, n.Value))
	}
	return faces, distances, nil
}

// Count returns the number of indexed reference faces.
func (idx *RosterIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToFace)
}
