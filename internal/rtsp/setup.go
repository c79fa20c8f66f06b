package rtsp

import (
	"github.com/wisslanding/aircast/internal/plist"
	"github.com/wisslanding/aircast/internal/session"
)

// handleSetup distinguishes the two SETUP shapes: the initial
// (timing-negotiation) SETUP and the follow-up SETUP that carries a
// "streams" array.
func (rt *Router) handleSetup(req *Request, sess *session.Context) *Reply {
	if v, ok := req.Header("DACP-ID"); ok {
		sess.DACPID = v
	}
	if v, ok := req.Header("Active-Remote"); ok {
		sess.ActiveRemote = v
	}
	if v, ok := req.Header("User-Agent"); ok {
		sess.UserAgent = v
	}
	if v, ok := req.Header("X-Apple-Client-Name"); ok {
		sess.ClientName = v
	}

	parsed, err := plist.Unmarshal(req.Body)
	if err != nil {
		return badRequest(req)
	}

	if streamsRaw, has := plist.Get(parsed, "streams"); has {
		return rt.handleSetupStreams(req, sess, streamsRaw)
	}
	return rt.handleSetupInitial(req, sess, parsed)
}

func (rt *Router) handleSetupInitial(req *Request, sess *session.Context, parsed any) *Reply {
	timingProtocol, _ := plist.GetString(parsed, "timingProtocol")
	switch timingProtocol {
	case "PTP":
		sess.Stream.TimingProtocol = session.ProtocolPTP
		sess.Stream.TimingCategory = session.TimingPTP
	case "NTP":
		// NTP timing is rejected outright; only PTP sources play.
		return badRequest(req)
	default:
		sess.Stream.TimingProtocol = session.ProtocolNone
	}

	if groupID, ok := plist.GetString(parsed, "groupUUID"); ok {
		sess.GroupID = groupID
	}
	if leader, ok := plist.GetBool(parsed, "groupContainsGroupLeader"); ok {
		sess.GroupContainsLeader = leader
	}

	respDict := plist.Dict{}

	var eventPort int
	if rt.Ports != nil {
		_, _, eventPort, _ = rt.Ports.AllocateAudioPorts()
	}
	respDict["eventPort"] = int64(eventPort)

	if sess.Stream.TimingProtocol == session.ProtocolPTP && rt.Clock != nil {
		addrs, err := rt.Clock.LocalAddresses()
		if err == nil && len(addrs) > 0 {
			_ = rt.Clock.PublishPeers(addrs)
			peerArr := make(plist.Array, 0, len(addrs))
			for _, a := range addrs {
				peerArr = append(peerArr, a)
			}
			respDict["peerInfo"] = peerArr
		}
	}

	body, err := plist.Marshal(respDict)
	if err != nil {
		return badRequest(req)
	}
	return ok(req).WithBody("application/x-apple-binary-plist", body)
}

func (rt *Router) handleSetupStreams(req *Request, sess *session.Context, streamsRaw any) *Reply {
	streams, isArray := streamsRaw.(plist.Array)
	if !isArray || len(streams) == 0 {
		return badRequest(req)
	}
	first := streams[0]

	streamType, _ := plist.GetInt(first, "type")
	sess.Stream.StreamType = session.StreamType(streamType)
	if sess.Stream.Rejected() {
		return badRequest(req)
	}

	if v, ok := plist.GetInt(first, "audioFormat"); ok {
		sess.Stream.AudioFormat = int(v)
	}
	if v, ok := plist.GetInt(first, "ct"); ok {
		sess.Stream.CompressionType = int(v)
	}
	if v, ok := plist.GetInt(first, "spf"); ok {
		sess.Stream.SampleFramesPerPacket = int(v)
	}
	if v, ok := plist.GetString(first, "clientID"); ok {
		sess.Stream.ClientID = v
	}
	if key, ok := plist.GetBytes(first, "shk"); ok && len(key) == 32 {
		sess.SetSharedKey([32]byte(key))
	}

	if rt.Sessions != nil {
		rt.Sessions.SetActive(sess)
	}

	var dataPort, controlPort, eventPort int
	if rt.Ports != nil {
		dataPort, controlPort, eventPort, _ = rt.Ports.AllocateAudioPorts()
	}

	respStream := plist.Dict{
		"type":            streamType,
		"dataPort":        int64(dataPort),
		"controlPort":     int64(controlPort),
		"eventPort":       int64(eventPort),
		"audioBufferSize": int64(rt.Config.RTSP.Audio.BufferSizeBytes),
	}
	body, err := plist.Marshal(plist.Dict{"streams": plist.Array{respStream}})
	if err != nil {
		return badRequest(req)
	}
	return ok(req).WithBody("application/x-apple-binary-plist", body)
}
