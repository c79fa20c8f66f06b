package rtsp

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/wisslanding/aircast/internal/cipher"
	"github.com/wisslanding/aircast/internal/rlog"
	"github.com/wisslanding/aircast/internal/session"
)

var log = rlog.For("rtsp")

// ServeConn runs the per-connection read/decrypt/parse/dispatch/reply
// loop: accumulate bytes off the socket, try to frame a complete
// message, dispatch, repeat, until the connection closes or ctx is
// cancelled.
//
// Cancellation is cooperative: the watcher goroutine below closes conn
// when ctx is done, which interrupts an in-flight Read; the loop then
// sees the cancelled ctx and returns nil.
func ServeConn(ctx context.Context, conn net.Conn, rt *Router, identity *cipher.LongTermIdentity, saver *Saver) error {
	sess := session.New(identity)
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var wireBuf []byte
	var plainBuf []byte
	readBuf := make([]byte, 4096)

	// The initial read accumulates at least MinInitialRead bytes
	// before the first parse attempt; every read after that needs
	// only one byte to make progress.
	minRead := MinInitialRead

	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			wireBuf = append(wireBuf, readBuf[:n]...)
			if len(wireBuf) < minRead && err == nil {
				continue
			}
			minRead = 1

			plain, consumed, decErr := sess.Cipher.Decrypt(wireBuf, nil)
			if decErr != nil {
				log.Error("cipher failure, closing session", "err", decErr)
				return decErr
			}
			wireBuf = wireBuf[consumed:]
			plainBuf = append(plainBuf, plain...)

			for {
				req, used, perr := TryParse(plainBuf)
				if perr != nil {
					log.Warn("malformed RTSP request", "err", perr)
					reply := NewReply(400, reasonForCode(400), 0)
					if wireErr := writeReply(conn, sess.Cipher, reply); wireErr != nil {
						return wireErr
					}
					plainBuf = nil
					break
				}
				if req == nil {
					break
				}
				plainBuf = plainBuf[used:]

				if saver != nil {
					saver.Record(req)
				}

				reply := rt.Dispatch(req, sess)
				if wireErr := writeReply(conn, sess.Cipher, reply); wireErr != nil {
					return wireErr
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || isCancelled(ctx) {
				return nil
			}
			return err
		}
	}
}

func writeReply(conn net.Conn, cipherStream *cipher.Stream, reply *Reply) error {
	plaintext := reply.Serialize()
	wire, err := cipherStream.Encrypt(plaintext)
	if err != nil {
		return err
	}
	_, err = conn.Write(wire)
	return err
}

func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
