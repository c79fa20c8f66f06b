// Package clockbridge reads the PTP helper's shared-memory clock
// record and publishes the session's timing-peer list to it. It is a
// deliberately narrow reader around a raw OS resource: lock the
// record's embedded mutex, copy the record out, unlock.
package clockbridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wisslanding/aircast/internal/rlog"
)

var log = rlog.For("clockbridge")

// ErrVersionMismatch means the helper writes a record layout this
// reader does not understand; fatal for the process.
var ErrVersionMismatch = errors.New("clockbridge: shared-memory version mismatch")

// ErrNotMapped means the helper hasn't created the segment yet;
// transient, callers fall back to Silent frames until it appears.
var ErrNotMapped = errors.New("clockbridge: shared memory not yet mapped")

// ExpectedVersion is the version tag this reader understands.
const ExpectedVersion = 1

// recordSize covers a glibc PTHREAD_PROCESS_SHARED pthread_mutex_t
// (40 bytes on linux/amd64) plus the helper's fixed fields.
const (
	mutexSize   = 40
	ipFieldSize = 16
	recordSize  = mutexSize + 4 /*version*/ + 8 /*clock id*/ + ipFieldSize + 8 + 8 + 8
)

const controlPort = 9000

// Linux futex(2) operation codes. golang.org/x/sys/unix does not
// export these (only the newer SYS_FUTEX_WAIT/SYS_FUTEX_WAKE syscall
// numbers), so they're pinned here per the stable kernel UAPI.
const (
	futexWait = 0
	futexWake = 1
)

// ClockInfo is one snapshot of the PTP helper's shared state.
type ClockInfo struct {
	ClockID              uint64
	MasterIP             string
	SampleTimeNanos      int64
	RawOffsetNanos       int64
	MastershipStartNanos int64
}

// Bridge maps the named shared-memory segment written by the external
// PTP helper and publishes peer lists to it over UDP.
type Bridge struct {
	mu      sync.Mutex
	shmName string // "/<receiver_name>-<device_id>"
	shmPath string // host filesystem path backing the POSIX shm object
	data    []byte
	udpAddr *net.UDPAddr
}

// New builds a Bridge for the given receiver name and device id. It
// does not fail if the segment doesn't exist yet; mapping is
// attempted lazily on each read.
func New(receiverName, deviceID string) *Bridge {
	name := fmt.Sprintf("/%s-%s", receiverName, deviceID)
	return &Bridge{
		shmName: name,
		shmPath: "/dev/shm" + name,
		udpAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: controlPort},
	}
}

func (b *Bridge) ensureMappedLocked() error {
	if b.data != nil {
		return nil
	}
	f, err := os.OpenFile(b.shmPath, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotMapped
		}
		return fmt.Errorf("clockbridge: open %s: %w", b.shmPath, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, recordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("clockbridge: mmap %s: %w", b.shmPath, err)
	}
	b.data = data
	return nil
}

// lockRecordLocked acquires the embedded futex-based mutex occupying
// the first mutexSize bytes of the record. It spins briefly before
// falling back to FUTEX_WAIT, matching glibc's normal-mutex fast path
// closely enough for a read-only observer; the lock is never held
// across a suspension point, so a read blocks at most one writer's
// critical section.
func (b *Bridge) lockRecordLocked() error {
	word := (*uint32)(unsafe.Pointer(&b.data[0]))
	for i := 0; i < 1000; i++ {
		if atomic.CompareAndSwapUint32(word, 0, 1) {
			return nil
		}
		if i > 100 {
			_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(word)), futexWait, 1, 0, 0, 0)
		}
	}
	return fmt.Errorf("clockbridge: timed out acquiring shared mutex")
}

func (b *Bridge) unlockRecordLocked() {
	word := (*uint32)(unsafe.Pointer(&b.data[0]))
	atomic.StoreUint32(word, 0)
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(word)), futexWake, 1, 0, 0, 0)
}

// ReadClockInfo locks the embedded mutex, copies the record, unlocks,
// then validates the version.
func (b *Bridge) ReadClockInfo() (ClockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureMappedLocked(); err != nil {
		return ClockInfo{}, err
	}

	if err := b.lockRecordLocked(); err != nil {
		return ClockInfo{}, err
	}
	raw := make([]byte, recordSize-mutexSize)
	copy(raw, b.data[mutexSize:])
	b.unlockRecordLocked()

	version := binary.LittleEndian.Uint32(raw[0:4])
	if version != ExpectedVersion {
		return ClockInfo{}, ErrVersionMismatch
	}

	off := 4
	clockID := binary.LittleEndian.Uint64(raw[off:])
	off += 8
	ipBytes := raw[off : off+ipFieldSize]
	off += ipFieldSize
	sampleTime := int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	offsetNanos := int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	startNanos := int64(binary.LittleEndian.Uint64(raw[off:]))

	return ClockInfo{
		ClockID:              clockID,
		MasterIP:             strings.TrimRight(string(ipBytes), "\x00"),
		SampleTimeNanos:      sampleTime,
		RawOffsetNanos:       offsetNanos,
		MastershipStartNanos: startNanos,
	}, nil
}

// RawOffsetNanos implements internal/anchor.RawOffsetReader.
func (b *Bridge) RawOffsetNanos() (int64, error) {
	info, err := b.ReadClockInfo()
	if err != nil {
		return 0, err
	}
	return info.RawOffsetNanos, nil
}

// PublishPeers sends the timing-peer list to the helper's control
// port; the payload is "<shm_name> T <ip> <ip>...\0".
func (b *Bridge) PublishPeers(peers []string) error {
	conn, err := net.DialUDP("udp", nil, b.udpAddr)
	if err != nil {
		return fmt.Errorf("clockbridge: dial helper: %w", err)
	}
	defer conn.Close()

	payload := b.shmName + " T " + strings.Join(peers, " ") + "\x00"
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("clockbridge: publish peers: %w", err)
	}
	log.Debug("published timing peers", "count", len(peers))
	return nil
}

// LocalAddresses enumerates this host's non-loopback IPv4 addresses,
// used by SETUP's initial branch to build the peer-info array it
// returns to the source.
func (b *Bridge) LocalAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("clockbridge: enumerate addresses: %w", err)
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	return out, nil
}

// Close unmaps the shared-memory segment.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}
