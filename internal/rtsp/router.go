package rtsp

import (
	"github.com/wisslanding/aircast/internal/config"
	"github.com/wisslanding/aircast/internal/session"
)

// AnchorStore is the subset of internal/anchor.Store the router
// needs; handlers take their side effects through these narrow
// interfaces rather than concrete package imports.
type AnchorStore interface {
	Install(rtpTime int64, networkTimeNanos int64, clockID uint64, rate uint32)
}

// ClockBridge is the subset of internal/clockbridge.Bridge the router
// needs for SETUP's PTP branch and SETPEERS/SETPEERSX.
type ClockBridge interface {
	PublishPeers(peers []string) error
	LocalAddresses() ([]string, error)
}

// Racked is the subset of internal/racked.Racked the router needs for
// FLUSHBUFFERED and TEARDOWN's full-flush.
type Racked interface {
	Flush(fromSeq, untilSeq uint32, fromTS, untilTS uint32, all bool)
}

// ServiceAdvertiser is the subset of internal/svcadv.Advertiser the
// router needs for TEARDOWN's "request a service update".
type ServiceAdvertiser interface {
	UpdateActive(active bool) error
}

// PortAllocator hands out the ephemeral UDP/TCP ports SETUP must
// assign per session (audio, control, event).
type PortAllocator interface {
	AllocateAudioPorts() (dataPort, controlPort, eventPort int, err error)
}

// SessionRegistry tracks which session is the single active audio
// session — at most one exists at any time — so packet intake knows
// which session's shared key and spooling flag apply to inbound RTP.
type SessionRegistry interface {
	SetActive(sess *session.Context)
	Clear(sess *session.Context)
}

// Router dispatches parsed RTSP requests to per-method handlers. It
// is stateless across sessions; all per-connection state lives in
// session.Context.
type Router struct {
	Identity    IdentityProvider
	Anchor      AnchorStore
	Clock       ClockBridge
	Racked      Racked
	Advertiser  ServiceAdvertiser
	Ports       PortAllocator
	Sessions    SessionRegistry
	Config      config.Config
	FeatureBits uint64
}

// IdentityProvider exposes what GET /info and the pairing handlers
// need from the receiver's long-term identity.
type IdentityProvider interface {
	PublicKey() []byte
}

// Dispatch routes one request to its handler, always producing a
// reply; anything unrecognized gets a 501.
func (rt *Router) Dispatch(req *Request, sess *session.Context) *Reply {
	switch {
	case req.Method == "OPTIONS" && req.Path == "*":
		return rt.handleOptions(req)
	case req.Method == "GET" && req.Path == "/info":
		return rt.handleGetInfo(req)
	case req.Method == "POST" && req.Path == "/fp-setup":
		return rt.handleFPSetup(req)
	case req.Method == "POST" && req.Path == "/pair-setup":
		return rt.handlePairSetup(req, sess)
	case req.Method == "POST" && req.Path == "/pair-verify":
		return rt.handlePairVerify(req, sess)
	case req.Method == "POST" && req.Path == "/command":
		return rt.handleCommand(req)
	case req.Method == "POST" && req.Path == "/feedback":
		return rt.handleFeedback(req, sess)
	case req.Method == "SETUP":
		return rt.handleSetup(req, sess)
	case req.Method == "RECORD":
		return rt.handleRecord(req)
	case req.Method == "GET_PARAMETER":
		return rt.handleGetParameter(req)
	case req.Method == "SET_PARAMETER":
		return rt.handleSetParameter(req)
	case req.Method == "SETPEERS":
		return rt.handleSetPeers(req)
	case req.Method == "SETPEERSX":
		return rt.handleSetPeersX(req)
	case req.Method == "SETRATEANCHORTIME":
		return rt.handleSetRateAnchorTime(req, sess)
	case req.Method == "TEARDOWN":
		return rt.handleTeardown(req, sess)
	case req.Method == "FLUSHBUFFERED":
		return rt.handleFlushBuffered(req)
	case req.Method == "FEEDBACK":
		return rt.handleFeedback(req, sess)
	default:
		return NewReply(501, reasonForCode(501), req.CSeq)
	}
}

func badRequest(req *Request) *Reply {
	return NewReply(400, reasonForCode(400), req.CSeq)
}

func authRequired(req *Request) *Reply {
	return NewReply(470, reasonForCode(470), req.CSeq)
}

func ok(req *Request) *Reply {
	return NewReply(200, reasonForCode(200), req.CSeq)
}
