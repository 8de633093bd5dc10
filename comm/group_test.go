package comm_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/partsim/coupler/comm"
	"github.com/partsim/coupler/comm/memcomm"
)

// buildGroups wires one comm.Group per rank of a participant over a shared
// in-process fabric.
func buildGroups(name string, size int) []*comm.Group {
	fabric := memcomm.NewFabric()

	groups := make([]*comm.Group, size)

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			groups[r] = memcomm.Intra(fabric, name, r, size)
		}(r)
	}
	wg.Wait()

	return groups
}

var _ = Describe("Group", func() {
	It("should gather per-rank buffers at the leader", func() {
		groups := buildGroups("Fluid", 3)
		counts := []int{2, 1, 3}
		locals := [][]float64{{1, 2}, {3}, {4, 5, 6}}

		results := make([][][]float64, 3)

		var eg errgroup.Group
		for r := 0; r < 3; r++ {
			r := r
			eg.Go(func() error {
				out, err := groups[r].GatherAtLeader(locals[r], counts)
				results[r] = out
				return err
			})
		}

		Expect(eg.Wait()).To(Succeed())
		Expect(results[0]).To(Equal(locals))
		Expect(results[1]).To(BeNil())
		Expect(results[2]).To(BeNil())
	})

	It("should scatter leader parts to every rank", func() {
		groups := buildGroups("Fluid", 3)
		parts := [][]float64{{1, 2}, {3}, {4, 5, 6}}

		received := make([][]float64, 3)

		var eg errgroup.Group
		for r := 0; r < 3; r++ {
			r := r
			eg.Go(func() error {
				recv := make([]float64, len(parts[r]))
				err := groups[r].ScatterFromLeader(parts, recv)
				received[r] = recv
				return err
			})
		}

		Expect(eg.Wait()).To(Succeed())
		Expect(received).To(Equal(parts))
	})

	It("should broadcast the leader's buffer", func() {
		groups := buildGroups("Solid", 4)

		received := make([][]float64, 4)

		var eg errgroup.Group
		for r := 0; r < 4; r++ {
			r := r
			eg.Go(func() error {
				buf := []float64{9, 8}
				if r != 0 {
					buf = make([]float64, 2)
				}
				err := groups[r].BroadcastFromLeader(buf)
				received[r] = buf
				return err
			})
		}

		Expect(eg.Wait()).To(Succeed())
		for r := 0; r < 4; r++ {
			Expect(received[r]).To(Equal([]float64{9, 8}))
		}
	})

	It("should reduce to the minimum on every rank", func() {
		groups := buildGroups("Solid", 3)
		proposals := []float64{0.4, 0.1, 0.9}

		mins := make([]float64, 3)

		var eg errgroup.Group
		for r := 0; r < 3; r++ {
			r := r
			eg.Go(func() error {
				m, err := groups[r].ReduceMin(proposals[r])
				mins[r] = m
				return err
			})
		}

		Expect(eg.Wait()).To(Succeed())
		Expect(mins).To(Equal([]float64{0.1, 0.1, 0.1}))
	})

	It("should handle a single-rank participant without channels", func() {
		g := comm.NewSingleGroup()

		Expect(g.IsLeader()).To(BeTrue())
		Expect(g.Size()).To(Equal(1))

		out, err := g.GatherAtLeader([]float64{1}, []int{1})
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal([][]float64{{1}}))

		m, err := g.ReduceMin(0.5)
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(Equal(0.5))
	})
})
