package mcpilco_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func newSource(seed uint64) rand.Source { return rand.NewSource(seed) }

var _ = Describe("Buffer", func() {
	It("returns exactly h slices without growing when it is large enough", func() {
		buf := mcpilco.NewBuffer(4, 3, 2, newSource(1))
		z, grown := buf.Slices(3)
		Expect(z).To(HaveLen(3))
		Expect(grown).To(BeNil())
		Expect(buf.Len()).To(Equal(4))
	})

	It("tiles by ceil-division and truncates to h", func() {
		buf := mcpilco.NewBuffer(4, 3, 2, newSource(1))
		z, grown := buf.Slices(10)
		Expect(z).To(HaveLen(10))
		Expect(grown).NotTo(BeNil())
		Expect(grown.Len()).To(Equal(12))
		Expect(buf.Len()).To(Equal(4))
		for t := range z {
			Expect(mat.Equal(z[t], z[t%4])).To(BeTrue())
		}

		again, more := grown.Slices(10)
		Expect(more).To(BeNil())
		for t := range again {
			Expect(mat.Equal(again[t], z[t])).To(BeTrue())
		}
	})

	It("draws the same slices for the same seed", func() {
		a, _ := mcpilco.NewBuffer(2, 5, 2, newSource(3)).Slices(2)
		b, _ := mcpilco.NewBuffer(2, 5, 2, newSource(3)).Slices(2)
		c, _ := mcpilco.NewBuffer(2, 5, 2, newSource(4)).Slices(2)
		Expect(mat.Equal(a[1], b[1])).To(BeTrue())
		Expect(mat.Equal(a[1], c[1])).To(BeFalse())
	})

	It("whitens every slice", func() {
		z, _ := mcpilco.NewBuffer(2, 10, 3, newSource(9)).Slices(2)
		for _, s := range z {
			m, cov := belief.Empirical(s)
			Expect(mat.EqualApprox(m, mat.NewVecDense(3, nil), 1e-12)).To(BeTrue())
			Expect(mat.EqualApprox(cov, eye(3), 1e-9)).To(BeTrue())
		}
	})

	It("defaults a non-positive capacity", func() {
		Expect(mcpilco.NewBuffer(0, 2, 1, newSource(1)).Len()).To(Equal(mcpilco.DefaultCapacity))
	})
})
