package m2n

import (
	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
)

// gatherScatter routes every exchange through the participant leaders: the
// sending leader gathers all local values into one contiguous buffer in
// global-ID order, ships it leader-to-leader over a single channel, and the
// receiving leader scatters it back out. Memory on the leader is bounded by
// the total vertex count, which is acceptable when one side has few ranks.
type gatherScatter struct {
	group   *comm.Group
	channel comm.Channel
	logger  *zap.Logger

	// Leader only.
	localDist   VertexDistribution
	globalPos   map[int]int
	globalCount int
}

func (s *gatherScatter) prepare(local, remote VertexDistribution) error {
	if !s.group.IsLeader() {
		return nil
	}

	s.localDist = local

	ids, pos := local.globalOrdering()
	s.globalPos = pos
	s.globalCount = len(ids)

	return nil
}

func (s *gatherScatter) send(values []float64, dims int) error {
	counts := s.valueCounts(dims)

	parts, err := s.group.GatherAtLeader(values, counts)
	if err != nil {
		return err
	}

	if !s.group.IsLeader() {
		return nil
	}

	global := make([]float64, s.globalCount*dims)
	for r, ids := range s.localDist {
		for i, id := range ids {
			copy(global[s.globalPos[id]*dims:(s.globalPos[id]+1)*dims],
				parts[r][i*dims:(i+1)*dims])
		}
	}

	done := make(chan error, 1)
	s.channel.ASend(global, 0, func(err error) { done <- err })

	return <-done
}

func (s *gatherScatter) receive(values []float64, dims int) error {
	if !s.group.IsLeader() {
		return s.group.ScatterFromLeader(nil, values)
	}

	global := make([]float64, s.globalCount*dims)
	if err := s.channel.Recv(global, 0); err != nil {
		return err
	}

	parts := make([][]float64, len(s.localDist))
	for r, ids := range s.localDist {
		parts[r] = make([]float64, len(ids)*dims)
		for i, id := range ids {
			copy(parts[r][i*dims:(i+1)*dims],
				global[s.globalPos[id]*dims:(s.globalPos[id]+1)*dims])
		}
	}

	return s.group.ScatterFromLeader(parts, values)
}

func (s *gatherScatter) valueCounts(dims int) []int {
	if !s.group.IsLeader() {
		return nil
	}

	counts := make([]int, len(s.localDist))
	for r, ids := range s.localDist {
		counts[r] = len(ids) * dims
	}

	return counts
}
