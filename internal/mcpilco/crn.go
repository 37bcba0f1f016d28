package mcpilco

import (
	"github.com/san-kum/mcpilco/internal/belief"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultCapacity is the number of noise slices drawn for a new buffer.
const DefaultCapacity = 100

// Buffer holds pre-drawn standard-normal slices of shape n×d, one per
// horizon step, shared by every evaluation of a loss. It grows by tiling and
// never shrinks. A Buffer is owned by a single Loss and is not safe for
// concurrent use.
type Buffer struct {
	n, d   int
	slices []*mat.Dense
}

// NewBuffer draws capacity slices from src. A non-positive capacity selects
// DefaultCapacity.
func NewBuffer(capacity, n, d int, src rand.Source) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{n: n, d: d, slices: drawSlices(capacity, n, d, src)}
}

// Len is the number of slices held.
func (b *Buffer) Len() int { return len(b.slices) }

// Dims returns the shape of one slice.
func (b *Buffer) Dims() (n, d int) { return b.n, b.d }

// Slices returns exactly h slices. When h exceeds the capacity the slices
// come from a buffer tiled ceil(h/Len) times, which is returned as grown so
// the caller can commit it; grown is nil otherwise.
func (b *Buffer) Slices(h int) (zs []*mat.Dense, grown *Buffer) {
	if h <= len(b.slices) {
		return b.slices[:h], nil
	}
	reps := (h + len(b.slices) - 1) / len(b.slices)
	tiled := make([]*mat.Dense, 0, reps*len(b.slices))
	for r := 0; r < reps; r++ {
		tiled = append(tiled, b.slices...)
	}
	grown = &Buffer{n: b.n, d: b.d, slices: tiled}
	return tiled[:h], grown
}

// drawSlices draws h slices of standard-normal rows. Each slice is whitened
// when it has more rows than columns, so that sampling through it reproduces
// the requested mean and covariance exactly.
func drawSlices(h, n, d int, src rand.Source) []*mat.Dense {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	slices := make([]*mat.Dense, h)
	for t := range slices {
		z := mat.NewDense(n, d, nil)
		raw := z.RawMatrix().Data
		for i := range raw {
			raw[i] = norm.Rand()
		}
		belief.Whiten(z)
		slices[t] = z
	}
	return slices
}
