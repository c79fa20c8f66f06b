// Package svcadv is the receiver's mDNS/DNS-SD face: it publishes the
// _airplay._tcp and _raop._tcp service groups with their TXT records,
// updates them when the receiver goes active/inactive, and resolves
// other services (the DMX controller) by name.
package svcadv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brutella/dnssd"

	"github.com/wisslanding/aircast/internal/rlog"
)

var log = rlog.For("svcadv")

const (
	// ServiceAirPlay is the AirPlay 2 service group.
	ServiceAirPlay = "_airplay._tcp"
	// ServiceRAOP is the legacy RAOP service group sources still look up.
	ServiceRAOP = "_raop._tcp"
)

// Identity is what the Advertiser needs to build TXT records.
type Identity struct {
	DeviceID        string
	PairingIdentity string
	PublicKey       []byte
	Model           string
	FirmwareVersion string
	GroupID         string
}

// FeatureBits is the receiver's 64-bit AirPlay feature bitmap,
// rendered as "0xLL,0xHH" in TXT records and as a decimal 64-bit
// value in plist bodies.
type FeatureBits uint64

// TXTHex renders the bitmap as the two-dword hex form mDNS TXT records
// use: "0x<low32>,0x<high32>".
func (f FeatureBits) TXTHex() string {
	return fmt.Sprintf("0x%X,0x%X", uint32(f), uint32(f>>32))
}

// Advertiser publishes the AirPlay service groups and resolves peer
// services by zeroconf name.
type Advertiser struct {
	identity    Identity
	features    FeatureBits
	serviceName string
	port        int

	responder dnssd.Responder
	handles   map[string]dnssd.ServiceHandle

	active bool
	cancel context.CancelFunc
}

// New builds an Advertiser for serviceName, to be published on port
// (the RTSP listener's port).
func New(identity Identity, features FeatureBits, serviceName string, port int) (*Advertiser, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("svcadv: creating responder: %w", err)
	}
	return &Advertiser{
		identity:    identity,
		features:    features,
		serviceName: serviceName,
		port:        port,
		responder:   responder,
		handles:     make(map[string]dnssd.ServiceHandle),
	}, nil
}

// Publish registers both service groups and starts responding to mDNS
// queries in the background, stopping when ctx is cancelled.
func (a *Advertiser) Publish(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	for _, svcType := range []string{ServiceAirPlay, ServiceRAOP} {
		cfg := dnssd.Config{ //nolint:exhaustruct
			Name: a.serviceName,
			Type: svcType,
			Port: a.port,
			Text: a.txtRecord(),
		}
		svc, err := dnssd.NewService(cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("svcadv: building %s service: %w", svcType, err)
		}
		handle, err := a.responder.Add(svc)
		if err != nil {
			cancel()
			return fmt.Errorf("svcadv: adding %s service: %w", svcType, err)
		}
		a.handles[svcType] = handle
	}

	go func() {
		if err := a.responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("responder stopped unexpectedly", "err", err)
		}
	}()

	log.Info("advertising AirPlay services", "name", a.serviceName, "port", a.port)
	return nil
}

// UpdateActive implements internal/rtsp.ServiceAdvertiser: republish
// the TXT records when the receiver goes active or inactive.
func (a *Advertiser) UpdateActive(active bool) error {
	a.active = active
	txt := a.txtRecord()
	for _, handle := range a.handles {
		handle.UpdateText(txt, a.responder)
	}
	return nil
}

// txtRecord builds the full TXT key set both service groups carry.
func (a *Advertiser) txtRecord() map[string]string {
	statusFlags := "0x4"
	if a.active {
		statusFlags = "0x44" // receiver session in progress bit set alongside the base flag
	}

	return map[string]string{
		"pk":           fmt.Sprintf("%x", a.identity.PublicKey),
		"features":     a.features.TXTHex(),
		"gcgl":         "0",
		"gid":          a.identity.GroupID,
		"pi":           a.identity.PairingIdentity,
		"protovers":    "1.1",
		"srcvers":      "377.40.00",
		"manufacturer": "aircast",
		"model":        a.identity.Model,
		"flags":        statusFlags,
		"rsf":          "0x0",
		"deviceid":     a.identity.DeviceID,
		"acl":          "0",
		"vs":           a.identity.FirmwareVersion,
		"vn":           "65537",
		"cn":           "0,1,2,3",
		"da":           "true",
		"et":           "0,3,5",
		"ft":           a.features.TXTHex(),
		"md":           "0,1,2",
		"am":           a.identity.Model,
		"sf":           statusFlags,
		"tp":           "UDP",
	}
}

// Resolve implements internal/dmxlink.Resolver: it browses
// serviceName and returns the first matching instance's host and
// port, or an error once ctx expires without finding one.
func (a *Advertiser) Resolve(ctx context.Context, serviceName string) (string, int, error) {
	svcType, instance := splitServiceName(serviceName)
	svcType = qualifyServiceType(svcType)

	type result struct {
		host string
		port int
	}
	found := make(chan result, 1)

	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	added := func(e dnssd.BrowseEntry) {
		if instance != "" && e.Name != instance {
			return
		}
		host := e.Host
		if len(e.IPs) > 0 {
			host = e.IPs[0].String()
		}
		select {
		case found <- result{host: host, port: e.Port}:
		default:
		}
	}
	removed := func(dnssd.BrowseEntry) {}

	go func() {
		if err := dnssd.LookupType(browseCtx, svcType, added, removed); err != nil && browseCtx.Err() == nil {
			log.Warn("browse failed", "service", svcType, "err", err)
		}
	}()

	select {
	case r := <-found:
		return r.host, r.port, nil
	case <-ctx.Done():
		return "", 0, fmt.Errorf("svcadv: resolving %s: %w", serviceName, ctx.Err())
	}
}

// qualifyServiceType appends the ".local." domain browse queries
// require when the configured name carries only the bare service type.
func qualifyServiceType(svcType string) string {
	if strings.HasSuffix(svcType, ".") {
		return svcType
	}
	return svcType + ".local."
}

// splitServiceName accepts either a bare "_type._tcp" or an
// "Instance._type._tcp" zeroconf name, the two shapes the
// dmx.controller configuration key allows.
func splitServiceName(name string) (svcType, instance string) {
	if strings.HasPrefix(name, "_") {
		return name, ""
	}
	idx := strings.Index(name, "._")
	if idx < 0 {
		return name, ""
	}
	return name[idx+1:], name[:idx]
}

// Close stops responding and releases the responder.
func (a *Advertiser) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

// defaultServiceName is "<Receiver> on <hostname>", falling back to
// the bare receiver name when the hostname can't be read.
func defaultServiceName(receiverName string) string {
	hostname, err := os.Hostname()
	if err != nil {
		return receiverName
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return receiverName + " on " + hostname
}

// DefaultServiceName exposes defaultServiceName to the composition
// root for when config.mdns.service is left unset.
func DefaultServiceName(receiverName string) string { return defaultServiceName(receiverName) }
