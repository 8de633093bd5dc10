package config

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partsim/coupler/comm/memcomm"
	"github.com/partsim/coupler/cplscheme"
	"github.com/partsim/coupler/m2n"
	"github.com/partsim/coupler/mesh"
)

// Assembly holds every rank's scheme and mesh of an in-process run.
type Assembly struct {
	// Schemes maps each scheme participant to its per-rank schemes.
	Schemes map[string][]*cplscheme.Scheme

	// Meshes maps each scheme participant to its per-rank mesh
	// partitions.
	Meshes map[string][]*mesh.Mesh
}

// Assemble wires the scheme's participant pair over one in-process fabric
// and establishes the session. partitions assigns each participant its
// per-rank global vertex IDs on the exchange mesh. Only memory-transport
// connections can be assembled in a single process; distributed socket
// runs wire their ranks through the tcpcomm connector instead.
func Assemble(
	cfg *Config,
	partitions map[string][][]int,
	logger *zap.Logger,
) (*Assembly, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pair := pairKey(cfg.Scheme.Exchanges[0].From, cfg.Scheme.Exchanges[0].To)

	conn, err := cfg.connectionFor(pair)
	if err != nil {
		return nil, err
	}

	meshCfg, err := cfg.schemeMesh()
	if err != nil {
		return nil, err
	}

	if err := cfg.checkPartitions(pair, partitions); err != nil {
		return nil, err
	}

	fabric := memcomm.NewFabric()
	asm := &Assembly{
		Schemes: make(map[string][]*cplscheme.Scheme),
		Meshes:  make(map[string][]*mesh.Mesh),
	}

	coords := make(map[string][]*m2n.Coordinator)

	for _, local := range pair {
		remote := pair[0]
		if local == pair[0] {
			remote = pair[1]
		}

		rows := partitions[local]
		size := len(rows)
		remoteSize := len(partitions[remote])

		for r := 0; r < size; r++ {
			m := mesh.NewMesh(meshCfg.Name, rows[r])
			for _, d := range meshCfg.Data {
				m.CreateData(d.Name, d.Dims)
			}
			asm.Meshes[local] = append(asm.Meshes[local], m)

			channel := memcomm.MakeBuilder().
				WithFabric(fabric).
				WithLocalParticipant(local, r).
				WithRemoteParticipant(remote).
				WithRemoteSize(remoteSize).
				WithLogger(logger).
				Build()

			coords[local] = append(coords[local], m2n.MakeBuilder().
				WithLocalParticipant(local, size).
				WithRemoteParticipant(remote, remoteSize).
				WithGroup(memcomm.Intra(fabric, local, r, size)).
				WithChannel(channel).
				WithStrategy(strategyKind(conn.Strategy)).
				WithLogger(logger).
				Build())
		}
	}

	var eg errgroup.Group
	for local, list := range coords {
		for r, c := range list {
			local, r, c := local, r, c
			eg.Go(func() error {
				m := asm.Meshes[local][r]
				if local == conn.From {
					return c.RequestConnection(m)
				}
				return c.AcceptConnection(m)
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, local := range pair {
		remote := pair[0]
		if local == pair[0] {
			remote = pair[1]
		}

		for r := range coords[local] {
			asm.Schemes[local] = append(asm.Schemes[local],
				cfg.buildScheme(local, remote,
					coords[local][r], asm.Meshes[local][r], logger))
		}
	}

	return asm, nil
}

func (c *Config) connectionFor(pair [2]string) (ConnectionConfig, error) {
	for _, conn := range c.Connections {
		if pairKey(conn.From, conn.To) == pair {
			if conn.Transport != "memory" {
				return conn, invalid("connections",
					"only memory connections can be assembled in-process")
			}
			return conn, nil
		}
	}

	return ConnectionConfig{}, invalid("connections",
		"no connection configured between %q and %q", pair[0], pair[1])
}

// schemeMesh returns the single mesh every scheme exchange refers to.
func (c *Config) schemeMesh() (MeshConfig, error) {
	name := c.Scheme.Exchanges[0].Mesh
	for _, ex := range c.Scheme.Exchanges {
		if ex.Mesh != name {
			return MeshConfig{}, invalid("scheme.exchanges",
				"in-process assembly supports a single exchange mesh")
		}
	}

	for _, m := range c.Meshes {
		if m.Name == name {
			return m, nil
		}
	}

	return MeshConfig{}, invalid("meshes", "unknown mesh %q", name)
}

// checkPartitions verifies that each side partitions the same global
// vertex set with no vertex owned by two ranks.
func (c *Config) checkPartitions(
	pair [2]string,
	partitions map[string][][]int,
) error {
	sets := make(map[string][]int)

	for _, name := range pair {
		rows, ok := partitions[name]
		if !ok {
			return invalid("partitions",
				"no partition given for participant %q", name)
		}

		ranks := 0
		for _, p := range c.Participants {
			if p.Name == name {
				ranks = p.Ranks
			}
		}
		if len(rows) != ranks {
			return invalid("partitions",
				"participant %q has %d ranks but %d partition rows",
				name, ranks, len(rows))
		}

		seen := make(map[int]bool)
		var all []int
		for _, row := range rows {
			for _, id := range row {
				if seen[id] {
					return invalid("partitions",
						"vertex %d owned by two ranks of %q", id, name)
				}
				seen[id] = true
				all = append(all, id)
			}
		}

		sort.Ints(all)
		sets[name] = all
	}

	a, b := sets[pair[0]], sets[pair[1]]
	if len(a) != len(b) {
		return invalid("partitions",
			"participants disagree on the global vertex set")
	}
	for i := range a {
		if a[i] != b[i] {
			return invalid("partitions",
				"participants disagree on the global vertex set")
		}
	}

	return nil
}

func (c *Config) buildScheme(
	local, remote string,
	coord *m2n.Coordinator,
	m *mesh.Mesh,
	logger *zap.Logger,
) *cplscheme.Scheme {
	s := c.Scheme

	b := cplscheme.MakeBuilder().
		WithKind(schemeKind(s.Kind)).
		WithLocalParticipant(local).
		WithPartner(remote, coord).
		WithTimeWindow(dtPolicy(s.TimeWindow.Policy), s.TimeWindow.Size).
		WithMaxTime(s.MaxTime).
		WithMaxWindows(s.MaxWindows).
		WithFailurePolicy(failurePolicy(s.OnFailure)).
		WithLogger(logger)

	for _, ex := range s.Exchanges {
		b = b.WithExchange(cplscheme.Exchange{
			Data:    m.DataByName(ex.Data),
			Mesh:    m,
			From:    ex.From,
			To:      ex.To,
			Initial: ex.Initial,
		})
	}

	if s.Kind == "serial-implicit" {
		b = b.WithMaxIterations(s.MaxIterations)

		if local == s.Controller {
			b = b.WithControllerRole(true)

			for _, mc := range s.Measures {
				b = b.WithMeasure(measure(mc))
			}

			if a := s.Acceleration; a != nil {
				b = b.WithAcceleration(acceleration(*a))
			}
		}
	}

	return b.Build()
}

func schemeKind(kind string) cplscheme.Kind {
	if kind == "serial-implicit" {
		return cplscheme.SerialImplicit
	}

	return cplscheme.SerialExplicit
}

func dtPolicy(policy string) cplscheme.DtPolicy {
	if policy == "negotiated" {
		return cplscheme.DtNegotiated
	}

	return cplscheme.DtFixed
}

func failurePolicy(policy string) cplscheme.FailurePolicy {
	if policy == "accept" {
		return cplscheme.FailureAccept
	}

	return cplscheme.FailureAbort
}

func strategyKind(strategy string) m2n.StrategyKind {
	if strategy == "point-to-point" {
		return m2n.PointToPoint
	}

	return m2n.GatherScatter
}

func measure(mc MeasureConfig) cplscheme.Measure {
	if mc.Kind == "relative" {
		return cplscheme.NewRelativeMeasure(mc.Data, mc.Limit)
	}

	return cplscheme.NewAbsoluteMeasure(mc.Data, mc.Limit)
}

func acceleration(ac AccelerationConfig) cplscheme.Acceleration {
	if ac.Kind == "aitken" {
		return cplscheme.NewAitkenRelaxation(ac.Omega)
	}

	return cplscheme.NewConstantRelaxation(ac.Omega)
}
