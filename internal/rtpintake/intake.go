// Package rtpintake binds the per-session audio/control/event sockets
// SETUP assigns, receives ciphered RTP audio packets, decodes them,
// and hands decoded Frames off to Racked while the active session is
// spooling. Packets decode in parallel on a small fixed worker pool
// pulling off one shared channel; all decoder state is per-frame.
package rtpintake

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/wisslanding/aircast/internal/frame"
	"github.com/wisslanding/aircast/internal/rlog"
	"github.com/wisslanding/aircast/internal/session"
)

var log = rlog.For("rtpintake")

// maxPacketBytes bounds a single UDP read; generous for any AirPlay 2
// buffered-audio RTP packet plus its AEAD tag and nonce tail.
const maxPacketBytes = 2048

// packetQueueDepth is how many undecoded packets may queue before the
// intake starts warning and dropping. An unbounded channel here would
// let a stalled decoder exhaust memory, so the one bound in the whole
// pipeline sits at the very edge of the system, not inside Racked.
const packetQueueDepth = 512

// Racked is the producer half of internal/racked.Racked, the only
// part packet intake needs.
type Racked interface {
	Handoff(f *frame.Frame)
}

// Decoder is internal/frame.Decoder's Decode method, narrowed so this
// package never imports internal/dsp directly.
type Decoder interface {
	Decode(packet []byte, key [32]byte) (*frame.Frame, error)
}

// Intake implements internal/rtsp.PortAllocator and
// internal/rtsp.SessionRegistry, and runs the RTP receive loop.
type Intake struct {
	decoder Decoder
	racked  Racked
	workers int

	mu          sync.Mutex
	audioConn   *net.UDPConn
	controlConn *net.UDPConn
	eventLn     net.Listener

	active atomic.Pointer[session.Context]

	packets chan []byte
	once    sync.Once
}

// New builds an Intake that decodes with decoder, hands decoded frames
// to racked, and runs workers decode goroutines.
func New(decoder Decoder, racked Racked, workers int) *Intake {
	if workers < 1 {
		workers = 1
	}
	return &Intake{
		decoder: decoder,
		racked:  racked,
		workers: workers,
		packets: make(chan []byte, packetQueueDepth),
	}
}

// SetActive implements internal/rtsp.SessionRegistry: sess becomes the
// one session whose key/spooling state gates inbound RTP.
func (in *Intake) SetActive(sess *session.Context) {
	in.active.Store(sess)
}

// Clear implements internal/rtsp.SessionRegistry: sess stops being the
// active session, but only if it still is (a newer SETUP may have
// already superseded it).
func (in *Intake) Clear(sess *session.Context) {
	in.active.CompareAndSwap(sess, nil)
}

// AllocateAudioPorts implements internal/rtsp.PortAllocator: binds a
// fresh ephemeral audio data UDP socket, a control UDP socket, and an
// event TCP listener, replacing whatever this Intake held from a
// previous SETUP. Control and event sockets exist only for AirPlay 2
// compatibility; their bytes are discarded.
func (in *Intake) AllocateAudioPorts() (dataPort, controlPort, eventPort int, err error) {
	audioConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return 0, 0, 0, err
	}
	controlConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		audioConn.Close()
		return 0, 0, 0, err
	}
	eventLn, err := net.Listen("tcp", ":0")
	if err != nil {
		audioConn.Close()
		controlConn.Close()
		return 0, 0, 0, err
	}

	in.mu.Lock()
	prevAudio, prevControl, prevEvent := in.audioConn, in.controlConn, in.eventLn
	in.audioConn, in.controlConn, in.eventLn = audioConn, controlConn, eventLn
	in.mu.Unlock()

	if prevAudio != nil {
		prevAudio.Close()
	}
	if prevControl != nil {
		prevControl.Close()
	}
	if prevEvent != nil {
		prevEvent.Close()
	}

	in.startWorkers()
	go in.runAudio(audioConn)
	go discardUDP(controlConn)
	go discardTCP(eventLn)

	return portOf(audioConn.LocalAddr()), portOf(controlConn.LocalAddr()), tcpPortOf(eventLn.Addr()), nil
}

func (in *Intake) startWorkers() {
	in.once.Do(func() {
		for i := 0; i < in.workers; i++ {
			go in.decodeWorker()
		}
	})
}

// runAudio reads ciphered RTP packets off conn and queues them for
// decode until conn is closed (superseded by a later SETUP, or the
// composition root shutting down).
func (in *Intake) runAudio(conn *net.UDPConn) {
	buf := make([]byte, maxPacketBytes)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		select {
		case in.packets <- pkt:
		default:
			log.Warn("audio intake queue full, dropping packet")
		}
	}
}

func (in *Intake) decodeWorker() {
	for pkt := range in.packets {
		sess := in.active.Load()
		if sess == nil {
			continue
		}
		key, ok := sess.Key()
		if !ok {
			continue
		}

		f, err := in.decoder.Decode(pkt, key)
		if err != nil {
			log.Debug("frame decode failed", "err", err)
			continue
		}
		if sess.IsSpooling() {
			in.racked.Handoff(f)
		}
	}
}

// Close tears down whatever sockets are currently bound.
func (in *Intake) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.audioConn != nil {
		in.audioConn.Close()
	}
	if in.controlConn != nil {
		in.controlConn.Close()
	}
	if in.eventLn != nil {
		in.eventLn.Close()
	}
}

// discardUDP drains the control socket: received bytes are discarded,
// the socket is only kept open for the source's benefit.
func discardUDP(conn *net.UDPConn) {
	buf := make([]byte, maxPacketBytes)
	for {
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			return
		}
	}
}

// discardTCP serves the event listener: accepts one connection and
// discards whatever arrives on it.
func discardTCP(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, maxPacketBytes)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func portOf(addr net.Addr) int {
	if a, ok := addr.(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

func tcpPortOf(addr net.Addr) int {
	if a, ok := addr.(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}
