// Package weights builds row-normalized spatial weight matrices over an
// ordered station list. All other spatial statistics depend on it for their
// neighbor relationships.
package weights

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/geo"
)

// Method selects how neighbor weights are derived.
type Method string

// Supported weighting methods.
const (
	// MethodKNN weights each station's k nearest neighbors (great-circle
	// distance) by inverse distance and forces the matrix symmetric.
	MethodKNN Method = "knn"
	// MethodDistance weights every pair by inverse planar distance, no cutoff.
	MethodDistance Method = "distance"
)

// DefaultK is the default neighbor count for the knn method.
const DefaultK = 4

// Option applies a configuration option to the builder.
type Option func(*builder)

// WithMethod sets the weighting method.
func WithMethod(m Method) Option {
	return func(b *builder) {
		if m == MethodKNN || m == MethodDistance {
			b.method = m
		}
	}
}

// WithK sets the neighbor count for the knn method.
func WithK(k int) Option {
	return func(b *builder) {
		if k > 0 {
			b.k = k
		}
	}
}

type builder struct {
	method Method
	k      int
}

// Matrix is a symmetric-by-construction (knn) or dense (distance) spatial
// weight matrix, row-normalized so each station's outgoing influence sums
// to 1. Rows whose station has no neighbors within scope sum to 0.
type Matrix struct {
	n int
	w *mat.Dense
}

// Build constructs the weight matrix for the given station ordering.
// The station slice order defines the row/column order; neighbor ties are
// broken by slice index, so identical input yields identical output.
func Build(stations []model.Station, opts ...Option) *Matrix {
	b := &builder{
		method: MethodKNN,
		k:      DefaultK,
	}
	for _, opt := range opts {
		opt(b)
	}

	n := len(stations)
	m := &Matrix{n: n, w: mat.NewDense(max(n, 1), max(n, 1), nil)}
	if n == 0 {
		return m
	}

	switch b.method {
	case MethodKNN:
		m.fillKNN(stations, b.k)
	case MethodDistance:
		m.fillDistance(stations)
	}

	m.rowNormalize()
	return m
}

// fillKNN sets inverse-haversine weights for each station's k nearest
// neighbors, mirroring every discovered pair so the matrix is symmetric
// before normalization.
func (m *Matrix) fillKNN(stations []model.Station, k int) {
	type neighbor struct {
		idx  int
		dist float64
	}

	for i := range stations {
		neighbors := make([]neighbor, 0, m.n-1)
		for j := range stations {
			if j == i {
				continue
			}
			d := geo.Haversine(
				stations[i].Longitude, stations[i].Latitude,
				stations[j].Longitude, stations[j].Latitude,
			)
			neighbors = append(neighbors, neighbor{idx: j, dist: d})
		}

		// Ties broken by station index for determinism.
		sort.Slice(neighbors, func(a, b int) bool {
			if neighbors[a].dist != neighbors[b].dist {
				return neighbors[a].dist < neighbors[b].dist
			}
			return neighbors[a].idx < neighbors[b].idx
		})

		limit := min(k, len(neighbors))
		for _, nb := range neighbors[:limit] {
			if nb.dist <= 0 {
				// Co-located stations carry no usable inverse distance.
				continue
			}
			w := 1.0 / nb.dist
			m.w.Set(i, nb.idx, w)
			m.w.Set(nb.idx, i, w)
		}
	}
}

// fillDistance sets inverse planar-distance weights for every pair.
func (m *Matrix) fillDistance(stations []model.Station) {
	for i := range stations {
		for j := range stations {
			if j == i {
				continue
			}
			d := geo.Euclidean(
				stations[i].Longitude, stations[i].Latitude,
				stations[j].Longitude, stations[j].Latitude,
			)
			if d > 0 {
				m.w.Set(i, j, 1.0/d)
			}
		}
	}
}

// rowNormalize divides each row by its sum; zero rows stay zero.
func (m *Matrix) rowNormalize() {
	for i := 0; i < m.n; i++ {
		sum := 0.0
		for j := 0; j < m.n; j++ {
			sum += m.w.At(i, j)
		}
		if sum <= 0 {
			continue
		}
		for j := 0; j < m.n; j++ {
			m.w.Set(i, j, m.w.At(i, j)/sum)
		}
	}
}

// Dim returns the number of stations the matrix covers.
func (m *Matrix) Dim() int { return m.n }

// At returns the influence weight of station j on station i.
func (m *Matrix) At(i, j int) float64 { return m.w.At(i, j) }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	row := make([]float64, m.n)
	for j := 0; j < m.n; j++ {
		row[j] = m.w.At(i, j)
	}
	return row
}

// RowSum returns the sum of row i.
func (m *Matrix) RowSum(i int) float64 {
	sum := 0.0
	for j := 0; j < m.n; j++ {
		sum += m.w.At(i, j)
	}
	return sum
}

// SelfInclusiveRow returns row i with the diagonal entry forced to 1,
// the Gi* convention of including the focal station in its own
// neighborhood.
func (m *Matrix) SelfInclusiveRow(i int) []float64 {
	row := m.Row(i)
	row[i] = 1.0
	return row
}

// TotalSum returns the sum of all entries.
func (m *Matrix) TotalSum() float64 {
	sum := 0.0
	for i := 0; i < m.n; i++ {
		sum += m.RowSum(i)
	}
	return sum
}

// Dense returns the backing matrix for vectorized consumers. Callers must
// treat it as read-only.
func (m *Matrix) Dense() *mat.Dense { return m.w }
