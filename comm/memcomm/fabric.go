// Package memcomm provides an in-process transport. Participant ranks that
// live in the same process exchange buffers over paired Go channels, which
// also makes it the transport that backs intra-participant groups and
// multi-rank tests.
package memcomm

import (
	"fmt"
	"sync"
)

const linkDepth = 1024

// A Fabric is the process-local rendezvous point for channels. Both sides
// of a connection must use the same Fabric instance.
type Fabric struct {
	mu    sync.Mutex
	links map[linkKey]*link
}

// NewFabric creates an empty fabric.
func NewFabric() *Fabric {
	return &Fabric{links: make(map[linkKey]*link)}
}

// A linkKey identifies the pair of endpoints a link connects. Participant
// names are stored in lexicographic order so that both sides resolve the
// same link.
type linkKey struct {
	loName, hiName string
	loRank, hiRank int
}

func makeLinkKey(aName string, aRank int, bName string, bRank int) linkKey {
	if aName < bName || (aName == bName && aRank <= bRank) {
		return linkKey{loName: aName, loRank: aRank, hiName: bName, hiRank: bRank}
	}

	return linkKey{loName: bName, loRank: bRank, hiName: aName, hiRank: aRank}
}

// A message carries either a float64 or an int payload.
type message struct {
	floats []float64
	ints   []int
}

// A link is one bidirectional connection between two ranks. Closing it
// unblocks pending receives on both sides.
type link struct {
	toHi chan message
	toLo chan message

	closed    chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// endpoint is one side's directed view of a link.
type endpoint struct {
	send chan<- message
	recv <-chan message
	l    *link
}

// endpoint resolves (creating on first use) the link between the local and
// the remote rank and returns the local side's directed view.
func (f *Fabric) endpoint(
	localName string, localRank int,
	remoteName string, remoteRank int,
) endpoint {
	key := makeLinkKey(localName, localRank, remoteName, remoteRank)

	f.mu.Lock()
	l, ok := f.links[key]
	if !ok {
		l = &link{
			toHi:   make(chan message, linkDepth),
			toLo:   make(chan message, linkDepth),
			closed: make(chan struct{}),
		}
		f.links[key] = l
	}
	f.mu.Unlock()

	localIsLo := localName < remoteName ||
		(localName == remoteName && localRank <= remoteRank)
	if localIsLo {
		return endpoint{send: l.toHi, recv: l.toLo, l: l}
	}

	return endpoint{send: l.toLo, recv: l.toHi, l: l}
}

// intraName synthesizes the endpoint name of one rank of a participant for
// leader/follower wiring, keeping intra links distinct from inter-participant
// links of the same participant pair.
func intraName(participant string, rank int) string {
	return fmt.Sprintf("%s.intra[%d]", participant, rank)
}
