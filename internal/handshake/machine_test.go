package handshake_test

import (
	"bytes"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teslamotors/serial-pairing/internal/authentication"
	"github.com/teslamotors/serial-pairing/internal/handshake"
	"github.com/teslamotors/serial-pairing/internal/provider"
	"github.com/teslamotors/serial-pairing/internal/ringbuffer"
	"github.com/teslamotors/serial-pairing/pkg/protocol"
)

const maxTicks = 20000

// wire delivers bytes straight into the peer's receive queue.
type wire struct {
	rx      *ringbuffer.RingBuffer
	blocked bool
	sent    []byte
}

func (w *wire) Writable() bool {
	return !w.blocked && w.rx.FillLevel() < w.rx.Capacity()
}

func (w *wire) PutByte(b byte) error {
	w.sent = append(w.sent, b)
	return w.rx.Write(b)
}

type pair struct {
	remote, car         *handshake.Machine
	remoteRx, carRx     *ringbuffer.RingBuffer
	remoteTx, carTx     *wire
	remoteCfg, carCfg   handshake.Config
	remoteProv, carProv *provider.Native
}

func newPair(configure func(remote, car *handshake.Config)) *pair {
	p := &pair{
		remoteRx:   ringbuffer.New(0),
		carRx:      ringbuffer.New(0),
		remoteProv: provider.NewNative(nil),
		carProv:    provider.NewNative(nil),
	}
	p.remoteTx = &wire{rx: p.carRx}
	p.carTx = &wire{rx: p.remoteRx}
	p.remoteCfg = handshake.Config{Role: handshake.Initiator, Rx: p.remoteRx, Tx: p.remoteTx, Provider: p.remoteProv}
	p.carCfg = handshake.Config{Role: handshake.Responder, Rx: p.carRx, Tx: p.carTx, Provider: p.carProv}
	if configure != nil {
		configure(&p.remoteCfg, &p.carCfg)
	}
	var err error
	p.remote, err = handshake.New(p.remoteCfg)
	Expect(err).ToNot(HaveOccurred())
	p.car, err = handshake.New(p.carCfg)
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(func() {
		p.remote.Close()
		p.car.Close()
	})
	return p
}

// run ticks both machines until both finish or one of them stops making progress for good.
func (p *pair) run() {
	for i := 0; i < maxTicks && !(p.remote.Done() && p.car.Done()); i++ {
		p.remote.Tick()
		p.car.Tick()
	}
}

var _ = Describe("Plan", func() {
	It("mirrors the legs between roles", func() {
		remote := handshake.Plan(handshake.Initiator)
		car := handshake.Plan(handshake.Responder)
		Expect(remote).To(HaveLen(len(car)))
		Expect(remote[0]).To(Equal(handshake.StateSendSignature))
		Expect(car[0]).To(Equal(handshake.StateReceiveSignature))
		Expect(remote[len(remote)-1]).To(Equal(handshake.StateDone))
		Expect(car[len(car)-1]).To(Equal(handshake.StateDone))
		Expect(remote).To(ContainElement(handshake.StateVerifyPeer))
		Expect(car).To(ContainElement(handshake.StateVerifyPeer))
	})

	It("computes the shared secret before encrypting", func() {
		for _, role := range []handshake.Role{handshake.Initiator, handshake.Responder} {
			plan := handshake.Plan(role)
			compute, encrypt := -1, -1
			for i, s := range plan {
				switch s {
				case handshake.StateComputeSharedSecret:
					compute = i
				case handshake.StateEncryptMessage:
					encrypt = i
				}
			}
			Expect(compute).To(BeNumerically("<", encrypt), "role %s", role)
		}
	})
})

var _ = Describe("ParseRole", func() {
	DescribeTable("accepts both naming schemes",
		func(s string, expected handshake.Role) {
			role, err := handshake.ParseRole(s)
			Expect(err).ToNot(HaveOccurred())
			Expect(role).To(Equal(expected))
		},
		Entry("remote", "remote", handshake.Initiator),
		Entry("initiator", "Initiator", handshake.Initiator),
		Entry("car", "car", handshake.Responder),
		Entry("responder", " responder ", handshake.Responder),
	)

	It("rejects anything else", func() {
		_, err := handshake.ParseRole("key fob")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Machine", func() {
	Describe("New", func() {
		It("requires a transport", func() {
			_, err := handshake.New(handshake.Config{Role: handshake.Initiator})
			Expect(err).To(MatchError(handshake.ErrNoTransport))
		})

		It("rejects messages that do not fit in one frame", func() {
			rx := ringbuffer.New(0)
			_, err := handshake.New(handshake.Config{
				Rx:      rx,
				Tx:      &wire{rx: ringbuffer.New(0)},
				Message: make([]byte, 240),
			})
			Expect(errors.Is(err, handshake.ErrMessageTooLong)).To(BeTrue())
		})

		It("starts in the first state of its plan", func() {
			p := newPair(nil)
			Expect(p.remote.State()).To(Equal(handshake.StateSendSignature))
			Expect(p.car.State()).To(Equal(handshake.StateReceiveSignature))
			Expect(p.remote.Done()).To(BeFalse())
		})
	})

	Describe("a complete handshake", func() {
		var p *pair

		BeforeEach(func() {
			p = newPair(nil)
			p.run()
		})

		It("reaches Done on both sides", func() {
			Expect(p.remote.State()).To(Equal(handshake.StateDone))
			Expect(p.car.State()).To(Equal(handshake.StateDone))
			Expect(p.remote.Err()).ToNot(HaveOccurred())
			Expect(p.car.Err()).ToNot(HaveOccurred())
			done, total := p.remote.Progress()
			Expect(done).To(Equal(total))
		})

		It("exchanges credentials", func() {
			remote, car := p.remote.Result(), p.car.Result()
			Expect(remote.PeerCredential).To(Equal(car.LocalCredential))
			Expect(car.PeerCredential).To(Equal(remote.LocalCredential))
			Expect(remote.LocalCredential.Signature).To(HaveLen(protocol.SignatureLength))
			Expect(remote.LocalCredential.PublicKey).To(HaveLen(protocol.PublicKeyLength))
		})

		It("agrees on a shared key", func() {
			remote, car := p.remote.Result(), p.car.Result()
			Expect(remote.PeerKeyExchangeKey).To(Equal(car.LocalKeyExchangeKey))
			Expect(remote.SharedKey).To(HaveLen(authentication.SharedKeySizeBytes))
			Expect(remote.SharedKey).To(Equal(car.SharedKey))
		})

		It("delivers each peer's message", func() {
			remote, car := p.remote.Result(), p.car.Result()
			Expect(car.ReceivedCipherText).To(Equal(remote.SentCipherText))
			Expect(car.ReceivedIV).To(Equal(remote.SentIV))
			Expect(remote.SentCipherText).To(HaveLen(32))
			Expect(car.PlainText).To(HaveLen(32))
			Expect(car.PlainText[20:]).To(Equal(bytes.Repeat([]byte{12}, 12)))
			Expect(car.Message).To(Equal(handshake.DefaultMessage))
			Expect(remote.Message).To(Equal(handshake.DefaultMessage))
		})

		It("destroys every key handle", func() {
			Expect(p.remoteProv.Keys()).To(BeZero())
			Expect(p.carProv.Keys()).To(BeZero())
		})

		It("ignores further ticks", func() {
			ticks := p.remote.Ticks()
			Expect(p.remote.Tick()).To(Succeed())
			Expect(p.remote.Ticks()).To(Equal(ticks))
		})
	})

	It("sends one byte per tick", func() {
		p := newPair(nil)
		Expect(p.remote.Tick()).To(Succeed())
		Expect(p.remoteTx.sent).To(Equal([]byte{protocol.StartMarker}))
		Expect(p.remote.Tick()).To(Succeed())
		Expect(p.remoteTx.sent).To(HaveLen(2))
		Expect(p.remote.State()).To(Equal(handshake.StateSendSignature))
	})

	It("carries custom messages", func() {
		p := newPair(func(remote, car *handshake.Config) {
			remote.Message = []byte("open the frunk")
			car.Message = bytes.Repeat([]byte{'z'}, 32)
		})
		p.run()
		Expect(p.car.Result().Message).To(Equal([]byte("open the frunk")))
		Expect(p.remote.Result().Message).To(Equal(bytes.Repeat([]byte{'z'}, 32)))
		Expect(p.remote.Result().ReceivedCipherText).To(HaveLen(48))
	})

	It("resynchronizes after line noise", func() {
		p := newPair(nil)
		// A signature-sized frame with a corrupt end marker, then stray bytes.
		noise := append([]byte{'$'}, bytes.Repeat([]byte{0x41}, protocol.SignatureLength)...)
		noise = append(noise, '@', 'X', '#', 0x00, '%', '*')
		for _, b := range noise {
			Expect(p.carRx.Write(b)).To(Succeed())
		}
		p.run()
		Expect(p.remote.State()).To(Equal(handshake.StateDone))
		Expect(p.car.State()).To(Equal(handshake.StateDone))
	})

	It("waits while the transport is busy", func() {
		p := newPair(nil)
		p.remoteTx.blocked = true
		for i := 0; i < 10; i++ {
			Expect(p.remote.Tick()).To(Succeed())
		}
		Expect(p.remote.State()).To(Equal(handshake.StateSendSignature))
		Expect(p.remoteTx.sent).To(BeEmpty())

		p.remoteTx.blocked = false
		p.run()
		Expect(p.remote.State()).To(Equal(handshake.StateDone))
	})

	Describe("authentication", func() {
		It("fails when the peer signs a different identity", func() {
			p := newPair(func(remote, car *handshake.Config) {
				remote.Identity = []byte("I am 01234567890")
			})
			p.run()
			Expect(p.car.State()).To(Equal(handshake.StateFailed))
			Expect(errors.Is(p.car.Err(), handshake.ErrAuthentication)).To(BeTrue())

			var stateErr *handshake.StateError
			Expect(errors.As(p.car.Err(), &stateErr)).To(BeTrue())
			Expect(stateErr.State).To(Equal(handshake.StateVerifyPeer))

			// Without a stall timeout the remote waits for an ack that never comes.
			Expect(p.remote.State()).To(Equal(handshake.StateAwaitVerifiedAck))
			Expect(p.remote.Err()).ToNot(HaveOccurred())
			Expect(p.carProv.Keys()).To(BeZero())
		})
	})

	Describe("stall timeout", func() {
		var clock *clockwork.FakeClock

		BeforeEach(func() {
			clock = clockwork.NewFakeClock()
		})

		It("waits forever by default", func() {
			p := newPair(func(remote, car *handshake.Config) {
				car.Clock = clock
			})
			Expect(p.car.Tick()).To(Succeed())
			clock.Advance(time.Hour)
			Expect(p.car.Tick()).To(Succeed())
			Expect(p.car.State()).To(Equal(handshake.StateReceiveSignature))
		})

		It("fails a peer that hears nothing", func() {
			p := newPair(func(remote, car *handshake.Config) {
				car.Clock = clock
				car.StallTimeout = 100 * time.Millisecond
			})
			Expect(p.car.Tick()).To(Succeed())
			clock.Advance(99 * time.Millisecond)
			Expect(p.car.Tick()).To(Succeed())
			clock.Advance(time.Millisecond)
			err := p.car.Tick()
			Expect(errors.Is(err, handshake.ErrStallTimeout)).To(BeTrue())
			Expect(p.car.State()).To(Equal(handshake.StateFailed))

			var stateErr *handshake.StateError
			Expect(errors.As(err, &stateErr)).To(BeTrue())
			Expect(stateErr.State).To(Equal(handshake.StateReceiveSignature))
		})

		It("is reset by traffic", func() {
			p := newPair(func(remote, car *handshake.Config) {
				remote.Clock = clock
				remote.StallTimeout = 100 * time.Millisecond
			})
			for i := 0; i < 5; i++ {
				clock.Advance(90 * time.Millisecond)
				Expect(p.remote.Tick()).To(Succeed())
			}
			Expect(p.remote.State()).To(Equal(handshake.StateSendSignature))
		})
	})

	It("fails when closed early", func() {
		p := newPair(nil)
		p.remote.Tick()
		Expect(p.remote.Close()).To(Succeed())
		Expect(p.remote.State()).To(Equal(handshake.StateFailed))
		Expect(p.remote.Err()).To(HaveOccurred())
		Expect(p.remoteProv.Keys()).To(BeZero())
	})
})
