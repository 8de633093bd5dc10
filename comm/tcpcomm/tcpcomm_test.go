package tcpcomm

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/partsim/coupler/comm"
)

// connectPair establishes a 1-to-1 channel between two participants over
// the loopback interface.
func connectPair(
	acceptorName, requesterName string,
) (acceptor, requester *Comp, cleanup func()) {
	cn := NewConnector(nil)

	lst, err := cn.Listen("127.0.0.1:0", acceptorName, 0)
	Expect(err).ToNot(HaveOccurred())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	var eg errgroup.Group
	eg.Go(func() error {
		var aerr error
		acceptor, aerr = lst.Accept(ctx, requesterName, 1)
		return aerr
	})
	eg.Go(func() error {
		var rerr error
		requester, rerr = cn.Request(ctx,
			map[int]string{0: lst.Addr()}, requesterName, 0, acceptorName)
		return rerr
	})

	Expect(eg.Wait()).To(Succeed())

	cleanup = func() {
		cancel()
		_ = lst.Close()
		_ = acceptor.Close()
		_ = requester.Close()
	}

	return acceptor, requester, cleanup
}

var _ = Describe("Socket channel", func() {
	It("should round-trip float and int buffers", func() {
		acceptor, requester, cleanup := connectPair("Fluid", "Solid")
		defer cleanup()

		sent := []float64{0.5, 1.5, -3.25, 1e-7}
		Expect(requester.Send(sent, 0)).To(Succeed())

		got := make([]float64, len(sent))
		Expect(acceptor.Recv(got, 0)).To(Succeed())
		Expect(got).To(Equal(sent))

		ids := []int{5, 3, 99, -1}
		Expect(acceptor.SendInts(ids, 0)).To(Succeed())

		gotIDs := make([]int, len(ids))
		Expect(requester.RecvInts(gotIDs, 0)).To(Succeed())
		Expect(gotIDs).To(Equal(ids))
	})

	It("should deliver back-to-back headerless payloads intact", func() {
		acceptor, requester, cleanup := connectPair("Fluid", "Solid")
		defer cleanup()

		Expect(requester.Send([]float64{1, 2}, 0)).To(Succeed())
		Expect(requester.Send([]float64{3, 4, 5}, 0)).To(Succeed())

		first := make([]float64, 2)
		second := make([]float64, 3)
		Expect(acceptor.Recv(first, 0)).To(Succeed())
		Expect(acceptor.Recv(second, 0)).To(Succeed())
		Expect(first).To(Equal([]float64{1, 2}))
		Expect(second).To(Equal([]float64{3, 4, 5}))
	})

	It("should preserve ASend submission order", func() {
		acceptor, requester, cleanup := connectPair("Fluid", "Solid")
		defer cleanup()

		const numWrites = 64
		done := make(chan error, numWrites)

		for i := 0; i < numWrites; i++ {
			requester.ASend([]float64{float64(i)}, 0, func(err error) {
				done <- err
			})
		}

		got := make([]float64, 1)
		for i := 0; i < numWrites; i++ {
			Expect(acceptor.Recv(got, 0)).To(Succeed())
			Expect(got[0]).To(Equal(float64(i)))
		}

		for i := 0; i < numWrites; i++ {
			Eventually(done).Should(Receive(BeNil()))
		}
	})

	It("should fail a pending receive with ErrClosed when the remote "+
		"side closes", func() {
		acceptor, requester, cleanup := connectPair("Fluid", "Solid")
		defer cleanup()

		errCh := make(chan error, 1)
		go func() {
			buf := make([]float64, 4)
			errCh <- acceptor.Recv(buf, 0)
		}()

		time.Sleep(50 * time.Millisecond)
		Expect(requester.Close()).To(Succeed())

		Eventually(errCh, 5*time.Second).
			Should(Receive(MatchError(comm.ErrClosed)))
	})

	It("should fail a pending receive with ErrClosed when the local "+
		"side closes", func() {
		acceptor, requester, cleanup := connectPair("Fluid", "Solid")
		defer cleanup()
		_ = requester

		errCh := make(chan error, 1)
		go func() {
			buf := make([]float64, 4)
			errCh <- acceptor.Recv(buf, 0)
		}()

		time.Sleep(50 * time.Millisecond)
		Expect(acceptor.Close()).To(Succeed())

		Eventually(errCh, 5*time.Second).
			Should(Receive(MatchError(comm.ErrClosed)))
	})
})

var _ = Describe("Connector", func() {
	It("should reject a requester with the wrong participant name", func() {
		cn := NewConnector(nil)

		lst, err := cn.Listen("127.0.0.1:0", "Fluid", 0)
		Expect(err).ToNot(HaveOccurred())
		defer lst.Close()

		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second)
		defer cancel()

		var eg errgroup.Group
		eg.Go(func() error {
			_, aerr := lst.Accept(ctx, "Solid", 1)
			return aerr
		})

		_, rerr := cn.Request(ctx,
			map[int]string{0: lst.Addr()}, "Imposter", 0, "Fluid")

		aerr := eg.Wait()

		var connErr *comm.ConnectionError
		Expect(errors.As(aerr, &connErr)).To(BeTrue())

		// The requester either observes the handshake rejection or the
		// dropped connection.
		Expect(rerr).To(HaveOccurred())
	})

	It("should fail establishment when the peer is unreachable", func() {
		cn := NewConnector(nil)

		ctx, cancel := context.WithTimeout(
			context.Background(), 200*time.Millisecond)
		defer cancel()

		_, err := cn.Request(ctx,
			map[int]string{0: "127.0.0.1:1"}, "Solid", 0, "Fluid")

		var connErr *comm.ConnectionError
		Expect(errors.As(err, &connErr)).To(BeTrue())
	})
})
