package rtsp

import (
	"github.com/wisslanding/aircast/internal/plist"
	"github.com/wisslanding/aircast/internal/session"
)

// handleOptions lists every supported method in the Public header, in
// the fixed order sources expect.
func (rt *Router) handleOptions(req *Request) *Reply {
	return ok(req).With("Public", "ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, FLUSHBUFFERED, TEARDOWN, OPTIONS, POST, GET, PUT")
}

// handleGetInfo builds the GET /info binary-plist reply: a template
// populated with the receiver's current identity and feature bits.
func (rt *Router) handleGetInfo(req *Request) *Reply {
	info := plist.Dict{
		"deviceID":    rt.Config.Identity.DeviceID,
		"features":    int64(rt.FeatureBits),
		"model":       rt.Config.Identity.Model,
		"name":        rt.Config.Identity.ReceiverName,
		"firmware":    rt.Config.Identity.FirmwareVersion,
		"statusFlags": int64(0x04),
	}
	if rt.Identity != nil {
		info["pk"] = rt.Identity.PublicKey()
	}

	body, err := plist.Marshal(info)
	if err != nil {
		return badRequest(req)
	}
	return ok(req).WithBody("application/x-apple-binary-plist", body)
}

// handleFPSetup stands in for the opaque FairPlay challenge/response
// the external pairing library owns. The body is echoed back as an
// octet stream, which is enough for clients that only probe for a 200
// before falling back to HomeKit transient pairing on /pair-setup.
func (rt *Router) handleFPSetup(req *Request) *Reply {
	return ok(req).WithBody("application/octet-stream", req.Body)
}

func (rt *Router) handlePairSetup(req *Request, sess *session.Context) *Reply {
	driver := pairSetupDriverFor(sess)
	resp, _, _, err := driver.Step(req.Body)
	if err != nil {
		return authRequired(req)
	}
	return ok(req).WithBody("application/octet-stream", resp)
}

func (rt *Router) handlePairVerify(req *Request, sess *session.Context) *Reply {
	driver := pairVerifyDriverFor(sess)
	resp, done, result, err := driver.Step(req.Body)
	if err != nil {
		return authRequired(req)
	}
	if done && result != nil {
		if err := sess.Activate(result.SharedSecret); err != nil {
			return authRequired(req)
		}
	}
	return ok(req).WithBody("application/octet-stream", resp)
}

// handleCommand accepts only "updateMRSupportedCommands", silently;
// anything else is a bad request.
func (rt *Router) handleCommand(req *Request) *Reply {
	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}
	typ, ok2 := plist.GetString(parsed, "type")
	if !ok2 || typ != "updateMRSupportedCommands" {
		return badRequest(req)
	}
	return ok(req)
}

func (rt *Router) handleFeedback(req *Request, sess *session.Context) *Reply {
	sess.TouchFeedback(nowFunc())
	return ok(req)
}

func (rt *Router) handleRecord(req *Request) *Reply {
	return ok(req)
}

// handleGetParameter replies with a fixed volume regardless of the
// requested parameter name, since the receiver never persists an
// actual software volume.
func (rt *Router) handleGetParameter(req *Request) *Reply {
	return ok(req).WithBody("text/parameters", []byte("\r\nvolume: 0.0\r\n"))
}

func (rt *Router) handleSetParameter(req *Request) *Reply {
	return ok(req)
}

func (rt *Router) handleSetPeers(req *Request) *Reply {
	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}
	arr, ok2 := parsed.(plist.Array)
	if !ok2 {
		return badRequest(req)
	}
	peers := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok3 := v.(string); ok3 {
			peers = append(peers, s)
		}
	}
	if rt.Clock != nil {
		_ = rt.Clock.PublishPeers(peers)
	}
	return ok(req)
}

// handleSetPeersX is SETPEERS with a nested shape: an array of
// {ID, Addresses} dictionaries instead of a flat address list.
func (rt *Router) handleSetPeersX(req *Request) *Reply {
	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}
	arr, ok2 := parsed.(plist.Array)
	if !ok2 {
		return badRequest(req)
	}

	var peers []string
	for _, entry := range arr {
		addrs, ok3 := plist.Get(entry, "Addresses")
		if !ok3 {
			continue
		}
		addrArr, ok4 := addrs.(plist.Array)
		if !ok4 {
			continue
		}
		for _, a := range addrArr {
			if s, ok5 := a.(string); ok5 {
				peers = append(peers, s)
			}
		}
	}
	if rt.Clock != nil {
		_ = rt.Clock.PublishPeers(peers)
	}
	return ok(req)
}

// handleSetRateAnchorTime installs a new anchor and gates Racked
// spooling on rate's bit 0.
func (rt *Router) handleSetRateAnchorTime(req *Request, sess *session.Context) *Reply {
	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}
	if !plist.ExistsAll(parsed,
		[]string{"networkTimeTimelineID"},
		[]string{"networkTimeSecs"},
		[]string{"networkTimeFrac"},
		[]string{"rtpTime"},
	) {
		return badRequest(req)
	}

	clockID, _ := plist.GetInt(parsed, "networkTimeTimelineID")
	secs, _ := plist.GetInt(parsed, "networkTimeSecs")
	frac, _ := plist.GetInt(parsed, "networkTimeFrac")
	rtpTime, _ := plist.GetInt(parsed, "rtpTime")
	rate, _ := plist.GetInt(parsed, "rate")

	networkTimeNanos := secs*1_000_000_000 + (frac*1_000_000_000)/(1<<32)

	if rt.Anchor != nil {
		rt.Anchor.Install(rtpTime, networkTimeNanos, uint64(clockID), uint32(rate))
	}
	sess.SetSpooling(rate&1 == 1)

	return ok(req)
}

// handleTeardown always replies 200: clear the shared key, disable
// spooling, and if the body omits a "streams" key, announce the
// receiver inactive and flush everything.
func (rt *Router) handleTeardown(req *Request, sess *session.Context) *Reply {
	sess.Teardown()

	if rt.Sessions != nil {
		rt.Sessions.Clear(sess)
	}

	var hasStreams bool
	if len(req.Body) > 0 {
		if parsed, err := plist.Unmarshal(req.Body); err == nil {
			_, hasStreams = plist.Get(parsed, "streams")
		}
	}

	if !hasStreams {
		if rt.Advertiser != nil {
			_ = rt.Advertiser.UpdateActive(false)
		}
		if rt.Racked != nil {
			rt.Racked.Flush(0, 0, 0, 0, true)
		}
	}

	return ok(req)
}

// handleFlushBuffered extracts the four flush bounds and submits them
// to Racked verbatim.
func (rt *Router) handleFlushBuffered(req *Request) *Reply {
	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}

	fromSeq, ok1 := plist.GetInt(parsed, "flushFromSeq")
	fromTS, ok2 := plist.GetInt(parsed, "flushFromTS")
	untilSeq, ok3 := plist.GetInt(parsed, "flushUntilSeq")
	untilTS, ok4 := plist.GetInt(parsed, "flushUntilTS")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return badRequest(req)
	}

	if rt.Racked != nil {
		rt.Racked.Flush(uint32(fromSeq), uint32(untilSeq), uint32(fromTS), uint32(untilTS), false)
	}

	return ok(req)
}
