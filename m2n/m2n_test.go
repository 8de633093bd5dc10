package m2n_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/partsim/coupler/comm/memcomm"
	"github.com/partsim/coupler/m2n"
	"github.com/partsim/coupler/mesh"
)

// world wires two in-process participant groups with one coordinator and
// one mesh partition per rank.
type world struct {
	coords map[string][]*m2n.Coordinator
	meshes map[string][]*mesh.Mesh
}

// buildWorld creates the participants "Fluid" (requester) and "Solid"
// (acceptor) with the given per-rank vertex partitions and establishes the
// m2n session.
func buildWorld(
	fluidDist, solidDist [][]int,
	strategy m2n.StrategyKind,
) *world {
	fabric := memcomm.NewFabric()

	w := &world{
		coords: make(map[string][]*m2n.Coordinator),
		meshes: make(map[string][]*mesh.Mesh),
	}

	sizes := map[string]int{"Fluid": len(fluidDist), "Solid": len(solidDist)}
	dists := map[string][][]int{"Fluid": fluidDist, "Solid": solidDist}
	remotes := map[string]string{"Fluid": "Solid", "Solid": "Fluid"}

	var wg sync.WaitGroup
	for name, size := range sizes {
		w.coords[name] = make([]*m2n.Coordinator, size)
		w.meshes[name] = make([]*mesh.Mesh, size)

		for r := 0; r < size; r++ {
			wg.Add(1)
			go func(name string, r int) {
				defer wg.Done()

				group := memcomm.Intra(fabric, name, r, sizes[name])
				channel := memcomm.MakeBuilder().
					WithFabric(fabric).
					WithLocalParticipant(name, r).
					WithRemoteParticipant(remotes[name]).
					WithRemoteSize(sizes[remotes[name]]).
					Build()

				m := mesh.NewMesh("Surface", dists[name][r])
				m.CreateData("Forces", 1)
				m.CreateData("Displacements", 2)

				w.meshes[name][r] = m
				w.coords[name][r] = m2n.MakeBuilder().
					WithLocalParticipant(name, sizes[name]).
					WithRemoteParticipant(remotes[name],
						sizes[remotes[name]]).
					WithGroup(group).
					WithChannel(channel).
					WithStrategy(strategy).
					Build()
			}(name, r)
		}
	}
	wg.Wait()

	var eg errgroup.Group
	for r := range w.coords["Fluid"] {
		r := r
		eg.Go(func() error {
			return w.coords["Fluid"][r].RequestConnection(
				w.meshes["Fluid"][r])
		})
	}
	for r := range w.coords["Solid"] {
		r := r
		eg.Go(func() error {
			return w.coords["Solid"][r].AcceptConnection(
				w.meshes["Solid"][r])
		})
	}
	Expect(eg.Wait()).To(Succeed())

	return w
}

// exchange moves the named data from one participant to the other, driving
// every rank of both sides concurrently.
func (w *world) exchange(dataName, from, to string) {
	var eg errgroup.Group

	for r, c := range w.coords[from] {
		r, c := r, c
		eg.Go(func() error {
			m := w.meshes[from][r]
			return c.SendData(m.DataByName(dataName), m)
		})
	}

	for r, c := range w.coords[to] {
		r, c := r, c
		eg.Go(func() error {
			m := w.meshes[to][r]
			return c.ReceiveData(m.DataByName(dataName), m)
		})
	}

	Expect(eg.Wait()).To(Succeed())
}

// fillByGlobalID writes f(globalID, dim) into every vertex of the sender.
func (w *world) fillByGlobalID(
	participant, dataName string,
	f func(id, dim int) float64,
) {
	for r, m := range w.meshes[participant] {
		d := m.DataByName(dataName)
		for i, id := range w.meshes[participant][r].GlobalIDs() {
			for k := 0; k < d.Dims(); k++ {
				d.Values[i*d.Dims()+k] = f(id, k)
			}
		}
	}
}

// expectByGlobalID asserts that every receiver vertex holds f(globalID,
// dim).
func (w *world) expectByGlobalID(
	participant, dataName string,
	f func(id, dim int) float64,
) {
	for _, m := range w.meshes[participant] {
		d := m.DataByName(dataName)
		for i, id := range m.GlobalIDs() {
			for k := 0; k < d.Dims(); k++ {
				Expect(d.Values[i*d.Dims()+k]).To(
					Equal(f(id, k)),
					"data %s vertex %d dim %d", dataName, id, k)
			}
		}
	}
}

var fluidDist = [][]int{{0, 2}, {1, 3}}
var solidDist = [][]int{{0}, {2, 1}, {3}}

func roundTrip(strategy m2n.StrategyKind) {
	w := buildWorld(fluidDist, solidDist, strategy)

	w.fillByGlobalID("Fluid", "Forces", func(id, _ int) float64 {
		return float64(10 * id)
	})
	w.exchange("Forces", "Fluid", "Solid")
	w.expectByGlobalID("Solid", "Forces", func(id, _ int) float64 {
		return float64(10 * id)
	})

	w.fillByGlobalID("Solid", "Displacements", func(id, dim int) float64 {
		return float64(id) + float64(dim)/10
	})
	w.exchange("Displacements", "Solid", "Fluid")
	w.expectByGlobalID("Fluid", "Displacements", func(id, dim int) float64 {
		return float64(id) + float64(dim)/10
	})
}

var _ = Describe("Coordinator", func() {
	It("should round-trip values under gather-scatter with unequal "+
		"rank counts", func() {
		roundTrip(m2n.GatherScatter)
	})

	It("should round-trip values under point-to-point with unequal "+
		"rank counts", func() {
		roundTrip(m2n.PointToPoint)
	})

	It("should reuse the cached distribution across repeated "+
		"exchanges", func() {
		w := buildWorld(fluidDist, solidDist, m2n.PointToPoint)

		for step := 1; step <= 3; step++ {
			step := step
			w.fillByGlobalID("Fluid", "Forces", func(id, _ int) float64 {
				return float64(step*100 + id)
			})
			w.exchange("Forces", "Fluid", "Solid")
			w.expectByGlobalID("Solid", "Forces", func(id, _ int) float64 {
				return float64(step*100 + id)
			})
		}
	})

	It("should negotiate the minimum proposal across both "+
		"participants", func() {
		w := buildWorld(fluidDist, solidDist, m2n.GatherScatter)

		proposals := map[string][]float64{
			"Fluid": {0.5, 0.3},
			"Solid": {0.2, 0.9, 0.8},
		}

		var mu sync.Mutex
		results := map[string][]float64{
			"Fluid": make([]float64, 2),
			"Solid": make([]float64, 3),
		}

		var eg errgroup.Group
		for name, coords := range w.coords {
			for r, c := range coords {
				name, r, c := name, r, c
				eg.Go(func() error {
					v, err := c.NegotiateMin(proposals[name][r])
					mu.Lock()
					results[name][r] = v
					mu.Unlock()
					return err
				})
			}
		}

		Expect(eg.Wait()).To(Succeed())
		Expect(results["Fluid"]).To(Equal([]float64{0.2, 0.2}))
		Expect(results["Solid"]).To(Equal([]float64{0.2, 0.2, 0.2}))
	})

	It("should deliver a decision flag to every remote rank", func() {
		w := buildWorld(fluidDist, solidDist, m2n.GatherScatter)

		flags := make([]bool, 3)

		var eg errgroup.Group
		for r, c := range w.coords["Fluid"] {
			c := c
			eg.Go(func() error { return c.SendFlag(true) })
			_ = r
		}
		for r, c := range w.coords["Solid"] {
			r, c := r, c
			eg.Go(func() error {
				f, err := c.RecvFlag()
				flags[r] = f
				return err
			})
		}

		Expect(eg.Wait()).To(Succeed())
		Expect(flags).To(Equal([]bool{true, true, true}))
	})

	It("should panic when used before connection establishment", func() {
		group := memcomm.Intra(memcomm.NewFabric(), "Lonely", 0, 1)
		c := m2n.MakeBuilder().
			WithLocalParticipant("Lonely", 1).
			WithRemoteParticipant("Nobody", 1).
			WithGroup(group).
			WithChannel(memcomm.MakeBuilder().
				WithFabric(memcomm.NewFabric()).
				WithLocalParticipant("Lonely", 0).
				WithRemoteParticipant("Nobody").
				Build()).
			Build()

		m := mesh.NewMesh("Surface", []int{0})
		d := m.CreateData("Forces", 1)

		Expect(func() { _ = c.SendData(d, m) }).To(Panic())
	})
})
