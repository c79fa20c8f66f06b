// Package dmxlink drives the link to the remote DMX controller:
// resolve the controller host by zeroconf name, send a JSON handshake
// and receive periodic JSON feedback over a control socket, and
// stream length-prefixed MessagePack DmxFrame messages over a data
// socket, with a stalled-watchdog that resets and reconnects both.
package dmxlink

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wisslanding/aircast/internal/config"
	"github.com/wisslanding/aircast/internal/render/fx"
	"github.com/wisslanding/aircast/internal/rlog"
)

var log = rlog.For("dmxlink")

// Resolver is the subset of internal/svcadv.Advertiser the link needs
// to find the controller host.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string) (host string, port int, err error)
}

// Handshake is the first message sent on the control channel.
type Handshake struct {
	Type           string `json:"type"`
	IdleShutdownMS int64  `json:"idle_shutdown_ms"`
	LeadTimeUS     int64  `json:"lead_time_us"`
	RefUS          int64  `json:"ref_us"`
	DataPort       int    `json:"data_port"`
}

// Feedback is one periodic control-channel message the controller
// sends back.
type Feedback struct {
	Type       string  `json:"type"`
	DataWaitUS int64   `json:"data_wait_us"`
	ElapsedUS  int64   `json:"elapsed_us"`
	DMXQOK     int64   `json:"dmx_qok"`
	DMXQRF     int64   `json:"dmx_qrf"`
	DMXQSF     int64   `json:"dmx_qsf"`
	FPS        float64 `json:"fps"`
	EchoNowUS  int64   `json:"echo_now_us"`
	NowUS      int64   `json:"now_us"`
}

// DmxFrame is the outbound 16-byte DMX state plus its typed envelope,
// wire-encoded as length-prefixed MessagePack on the data socket.
type DmxFrame struct {
	Type      string   `msgpack:"type"`
	SeqNum    uint32   `msgpack:"seq_num"`
	Timestamp uint32   `msgpack:"timestamp"`
	Silent    bool     `msgpack:"silent"`
	DFrame    [16]byte `msgpack:"dframe"`
}

// Link is the controller connection. One Link exists for the
// process's lifetime; Run owns reconnect/backoff, and Send is safe to
// call concurrently from the render loop.
type Link struct {
	cfg         config.DMXConfig
	resolver    Resolver
	serviceName string

	mu       sync.Mutex
	dataConn net.Conn
	lastTxRx time.Time

	dataLn net.Listener
}

// New builds a Link that resolves serviceName via resolver and
// applies cfg's timeouts.
func New(cfg config.DMXConfig, resolver Resolver, serviceName string) *Link {
	return &Link{cfg: cfg, resolver: resolver, serviceName: serviceName}
}

// Run drives the resolve -> connect -> handshake -> serve cycle until
// ctx is cancelled, reattaching after any failure per cfg's retry
// timeout.
func (l *Link) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.attach(ctx); err != nil {
			log.Warn("dmx controller attach failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.TimeoutsMS.Retry()):
			}
		}
	}
}

// attach performs one full resolve/connect/serve cycle, blocking until
// the control or data connection drops or ctx is cancelled.
func (l *Link) attach(ctx context.Context) error {
	host, port, err := l.resolver.Resolve(ctx, l.serviceName)
	if err != nil {
		return fmt.Errorf("dmxlink: resolving %s: %w", l.serviceName, err)
	}

	controlConn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dmxlink: dialing control socket: %w", err)
	}
	defer controlConn.Close()

	dataLn, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("dmxlink: listening for data socket: %w", err)
	}
	l.mu.Lock()
	l.dataLn = dataLn
	l.mu.Unlock()
	defer dataLn.Close()

	dataPort := dataLn.Addr().(*net.TCPAddr).Port
	handshake := Handshake{
		Type:           "handshake",
		IdleShutdownMS: int64(l.cfg.TimeoutsMS.IdleMS),
		LeadTimeUS:     50_000,
		RefUS:          time.Now().UnixMicro(),
		DataPort:       dataPort,
	}
	if err := json.NewEncoder(controlConn).Encode(handshake); err != nil {
		return fmt.Errorf("dmxlink: sending handshake: %w", err)
	}
	l.touch()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := dataLn.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		l.mu.Lock()
		l.dataConn = conn
		l.mu.Unlock()
		acceptErrCh <- nil
	}()

	feedbackErrCh := make(chan error, 1)
	go func() {
		feedbackErrCh <- l.readFeedback(runCtx, controlConn)
	}()

	watchdogErrCh := make(chan error, 1)
	go func() {
		watchdogErrCh <- l.watchdog(runCtx)
	}()

	select {
	case <-ctx.Done():
		l.clearDataConn()
		return nil
	case err := <-acceptErrCh:
		if err != nil {
			l.clearDataConn()
			return fmt.Errorf("dmxlink: accepting data socket: %w", err)
		}
		// data connection accepted; keep serving until feedback/watchdog ends.
	case err := <-feedbackErrCh:
		l.clearDataConn()
		return err
	case err := <-watchdogErrCh:
		l.clearDataConn()
		return err
	}

	select {
	case <-ctx.Done():
		l.clearDataConn()
		return nil
	case err := <-feedbackErrCh:
		l.clearDataConn()
		return err
	case err := <-watchdogErrCh:
		l.clearDataConn()
		return err
	}
}

// readFeedback decodes periodic JSON Feedback messages off the
// control socket and logs their counters as metrics.
func (l *Link) readFeedback(ctx context.Context, conn net.Conn) error {
	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		if ctx.Err() != nil {
			return nil
		}
		var fb Feedback
		if err := dec.Decode(&fb); err != nil {
			if err == io.EOF {
				return fmt.Errorf("dmxlink: control socket closed")
			}
			return fmt.Errorf("dmxlink: decoding feedback: %w", err)
		}
		l.touch()
		log.Info("dmx feedback",
			"fps", fb.FPS,
			"dmx_qok", fb.DMXQOK,
			"dmx_qrf", fb.DMXQRF,
			"dmx_qsf", fb.DMXQSF,
			"data_wait_us", fb.DataWaitUS,
			"elapsed_us", fb.ElapsedUS,
			"round_trip_us", fb.NowUS-fb.EchoNowUS,
		)
	}
}

// watchdog errors out of the attach cycle — tearing down both sockets
// for a reconnect — once cfg.TimeoutsMS.Stalled elapses without any
// traffic in either direction.
func (l *Link) watchdog(ctx context.Context) error {
	interval := l.cfg.TimeoutsMS.Stalled() / 4
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.mu.Lock()
			idle := time.Since(l.lastTxRx)
			l.mu.Unlock()
			if idle > l.cfg.TimeoutsMS.Stalled() {
				return fmt.Errorf("dmxlink: stalled for %s, resetting", idle)
			}
		}
	}
}

func (l *Link) touch() {
	l.mu.Lock()
	l.lastTxRx = time.Now()
	l.mu.Unlock()
}

func (l *Link) clearDataConn() {
	l.mu.Lock()
	if l.dataConn != nil {
		l.dataConn.Close()
		l.dataConn = nil
	}
	l.mu.Unlock()
}

// Send implements internal/render.DMXSink: encodes one DmxFrame as
// length-prefixed MessagePack ({length:u32}{msgpack bytes}) and
// writes it to the data socket. A send while disconnected is silently
// dropped.
func (l *Link) Send(seqNum, timestamp uint32, silent bool, state fx.DMXState) error {
	l.mu.Lock()
	conn := l.dataConn
	l.mu.Unlock()
	if conn == nil {
		return nil
	}

	frame := DmxFrame{
		Type:      "data",
		SeqNum:    seqNum,
		Timestamp: timestamp,
		Silent:    silent,
		DFrame:    [16]byte(state),
	}
	payload, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("dmxlink: encoding dmx frame: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := conn.Write(lenPrefix[:]); err != nil {
		l.clearDataConn()
		return fmt.Errorf("dmxlink: writing frame length: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		l.clearDataConn()
		return fmt.Errorf("dmxlink: writing frame body: %w", err)
	}
	l.touch()
	return nil
}

// Close tears down the data listener, if any.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dataConn != nil {
		l.dataConn.Close()
	}
	if l.dataLn != nil {
		l.dataLn.Close()
	}
}
