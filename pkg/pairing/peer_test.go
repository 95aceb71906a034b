package pairing_test

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teslamotors/serial-pairing/pkg/connector/loopback"
	"github.com/teslamotors/serial-pairing/pkg/pairing"
	"github.com/teslamotors/serial-pairing/pkg/protocol"
)

const testTick = 100 * time.Microsecond

func newPeers(options ...loopback.Option) (*pairing.Peer, *pairing.Peer, *loopback.Endpoint, *loopback.Endpoint) {
	remoteConn, carConn := loopback.NewPair("remote", "car", options...)
	remote, err := pairing.NewPeer(remoteConn, pairing.Config{Role: pairing.Remote, TickInterval: testTick})
	Expect(err).ToNot(HaveOccurred())
	car, err := pairing.NewPeer(carConn, pairing.Config{Role: pairing.Car, TickInterval: testTick})
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(func() {
		remote.Close()
		car.Close()
		remoteConn.Close()
		carConn.Close()
	})
	return remote, car, remoteConn, carConn
}

var _ = Describe("Peer", func() {
	var ctx context.Context

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
		DeferCleanup(cancel)
	})

	It("pairs over a loopback link", func() {
		remote, car, _, _ := newPeers()
		remoteResult, carResult, err := pairing.Pair(ctx, remote, car)
		Expect(err).ToNot(HaveOccurred())
		Expect(remoteResult.SharedKey).To(Equal(carResult.SharedKey))
		Expect(carResult.Message).To(Equal([]byte("I am plaintext.1234\x00")))
		Expect(remoteResult.PeerCredential).To(Equal(carResult.LocalCredential))
		Expect(remote.State()).To(Equal(car.State()))
		Expect(remote.Err()).ToNot(HaveOccurred())
	})

	It("pairs over a rate-limited link", func() {
		remote, car, _, _ := newPeers(loopback.WithRate(20000, 4))
		_, carResult, err := pairing.Pair(ctx, remote, car)
		Expect(err).ToNot(HaveOccurred())
		Expect(carResult.Message).ToNot(BeEmpty())
	})

	It("recovers from line noise before the first frame", func() {
		remote, car, _, carConn := newPeers()
		noise := append([]byte{protocol.StartMarker}, bytes.Repeat([]byte{0x11}, protocol.SignatureLength)...)
		noise = append(noise, protocol.EndMarker1, 'x', 0x7f)
		carConn.Inject(noise)
		_, _, err := pairing.Pair(ctx, remote, car)
		Expect(err).ToNot(HaveOccurred())
	})

	It("reports receive statistics", func() {
		remote, car, _, _ := newPeers()
		_, _, err := pairing.Pair(ctx, remote, car)
		Expect(err).ToNot(HaveOccurred())
		stats := car.Stats()
		Expect(stats.Completed).To(Equal(stats.Total))
		Expect(stats.Received).To(BeNumerically(">", protocol.SignatureLength+protocol.PublicKeyLength))
		Expect(stats.Overflows).To(BeZero())
		Expect(stats.QueueLevel).To(BeZero())
	})

	It("stops when the context ends", func() {
		remote, _, _, _ := newPeers()
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := remote.Run(short)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(remote.Done()).To(BeFalse())
	})

	It("gives up on a silent peer when a stall timeout is set", func() {
		conn, _ := loopback.NewPair("car", "nobody")
		car, err := pairing.NewPeer(conn, pairing.Config{
			Role:         pairing.Car,
			TickInterval: testTick,
			StallTimeout: 20 * time.Millisecond,
		})
		Expect(err).ToNot(HaveOccurred())
		defer car.Close()
		_, err = car.Run(ctx)
		Expect(errors.Is(err, pairing.ErrStallTimeout)).To(BeTrue())
	})

	It("rejects a peer with the wrong identity", func() {
		remoteConn, carConn := loopback.NewPair("remote", "car")
		remote, err := pairing.NewPeer(remoteConn, pairing.Config{
			Role:         pairing.Remote,
			Identity:     []byte("I am an impostor"),
			TickInterval: testTick,
			StallTimeout: 200 * time.Millisecond,
		})
		Expect(err).ToNot(HaveOccurred())
		defer remote.Close()
		car, err := pairing.NewPeer(carConn, pairing.Config{Role: pairing.Car, TickInterval: testTick})
		Expect(err).ToNot(HaveOccurred())
		defer car.Close()

		_, _, err = pairing.Pair(ctx, remote, car)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(car.Err(), pairing.ErrAuthentication)).To(BeTrue())
		// The remote never sees the verification ack.
		Expect(errors.Is(remote.Err(), pairing.ErrStallTimeout)).To(BeTrue())
	})
})
