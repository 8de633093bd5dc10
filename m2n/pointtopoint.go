package m2n

import (
	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
)

// pointToPoint exchanges directly between overlapping rank pairs, with no
// leader in the path. From the cached distributions each rank computes,
// once per session, which remote ranks share vertices with it and the exact
// local indices behind every pair's message; the per-pair channel is reused
// for every subsequent exchange.
type pointToPoint struct {
	localRank int
	channel   comm.Channel
	logger    *zap.Logger

	// Per overlapping remote rank, the local vertex indices of the shared
	// global IDs, ordered by global ID. Sender and receiver derive the
	// same ordering independently.
	peers []peerOverlap
}

type peerOverlap struct {
	rank      int
	localIdx  []int
	vertexNum int
}

func (s *pointToPoint) prepare(local, remote VertexDistribution) error {
	myIDs := local[s.localRank]

	localPos := make(map[int]int, len(myIDs))
	for i, id := range myIDs {
		localPos[id] = i
	}

	for rr, remoteIDs := range remote {
		shared := overlap(myIDs, remoteIDs)
		if len(shared) == 0 {
			continue
		}

		po := peerOverlap{rank: rr, vertexNum: len(shared)}
		for _, id := range shared {
			po.localIdx = append(po.localIdx, localPos[id])
		}

		s.peers = append(s.peers, po)
	}

	s.logger.Debug("point-to-point overlap computed",
		zap.Int("localRank", s.localRank),
		zap.Int("peerCount", len(s.peers)))

	return nil
}

func (s *pointToPoint) send(values []float64, dims int) error {
	done := make(chan error, len(s.peers))

	for _, po := range s.peers {
		buf := make([]float64, po.vertexNum*dims)
		for i, li := range po.localIdx {
			copy(buf[i*dims:(i+1)*dims], values[li*dims:(li+1)*dims])
		}

		s.channel.ASend(buf, po.rank, func(err error) { done <- err })
	}

	var firstErr error
	for range s.peers {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (s *pointToPoint) receive(values []float64, dims int) error {
	for _, po := range s.peers {
		buf := make([]float64, po.vertexNum*dims)
		if err := s.channel.Recv(buf, po.rank); err != nil {
			return err
		}

		for i, li := range po.localIdx {
			copy(values[li*dims:(li+1)*dims], buf[i*dims:(i+1)*dims])
		}
	}

	return nil
}
