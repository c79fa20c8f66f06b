// Command aircastd is the composition root for the AirPlay 2
// audio-to-light-show receiver. Every subsystem is built here as a
// value and handed its dependencies explicitly; there is no
// package-level mutable state.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/wisslanding/aircast/internal/anchor"
	"github.com/wisslanding/aircast/internal/cipher"
	"github.com/wisslanding/aircast/internal/clockbridge"
	"github.com/wisslanding/aircast/internal/config"
	"github.com/wisslanding/aircast/internal/dmxlink"
	"github.com/wisslanding/aircast/internal/dsp"
	"github.com/wisslanding/aircast/internal/frame"
	"github.com/wisslanding/aircast/internal/racked"
	"github.com/wisslanding/aircast/internal/render"
	"github.com/wisslanding/aircast/internal/render/fx"
	"github.com/wisslanding/aircast/internal/rlog"
	"github.com/wisslanding/aircast/internal/rtpintake"
	"github.com/wisslanding/aircast/internal/rtsp"
	"github.com/wisslanding/aircast/internal/svcadv"
)

// defaultFeatureBits is the advertised AirPlay 2 feature bitmap:
// buffered audio, metadata, PTP timing, and SETPEERSX support folded
// into one constant.
const defaultFeatureBits = 0x1C340405405

func main() {
	var (
		configPath    = pflag.StringP("config", "c", "aircast.yaml", "Configuration file path.")
		logLevel      = pflag.StringP("log-level", "l", "", "Override configured log level (debug, info, warn, error).")
		receiverName  = pflag.StringP("name", "n", "", "Override the advertised receiver/service name.")
		dmxController = pflag.StringP("dmx-controller", "", "", "Override the configured DMX controller zeroconf name.")
		help          = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "aircastd - AirPlay 2 audio receiver and light-show controller.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: aircastd [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aircastd: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *receiverName != "" {
		cfg.Identity.ReceiverName = *receiverName
	}
	if *dmxController != "" {
		cfg.DMX.Controller = *dmxController
	}

	rlog.SetLevel(cfg.LogLevel)
	log := rlog.For("main")

	if err := run(cfg); err != nil {
		log.Error("aircastd exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := rlog.For("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	identity, err := cipher.NewLongTermIdentity()
	if err != nil {
		return fmt.Errorf("generating long-term identity: %w", err)
	}
	if cfg.Identity.DeviceID == "" {
		cfg.Identity.DeviceID = deviceIDFromPublicKey(identity.PublicKey())
	}

	clock := clockbridge.New(cfg.Identity.ReceiverName, cfg.Identity.DeviceID)
	defer clock.Close()

	anchorStore := anchor.NewStore(clock)

	rackedBuf := racked.New(anchorStore)
	defer rackedBuf.Close()

	decoder := frame.NewDecoder(dsp.PassthroughAAC{}, dsp.NewNaiveFFT())
	intake := rtpintake.New(decoder, rackedBuf, cfg.Frame.RackedThreads)
	defer intake.Close()

	rtspListener, err := net.Listen("tcp", ":5000")
	if err != nil {
		return fmt.Errorf("binding RTSP listener: %w", err)
	}
	defer rtspListener.Close()
	rtspPort := rtspListener.Addr().(*net.TCPAddr).Port
	if cfg.MDNS.Port == 0 {
		cfg.MDNS.Port = rtspPort
	}

	serviceName := cfg.MDNS.Service
	if serviceName == "" {
		serviceName = svcadv.DefaultServiceName(cfg.Identity.ReceiverName)
	}
	advertiser, err := svcadv.New(svcadv.Identity{
		DeviceID:        cfg.Identity.DeviceID,
		PairingIdentity: cfg.Identity.DeviceID,
		PublicKey:       identity.PublicKey(),
		Model:           cfg.Identity.Model,
		FirmwareVersion: cfg.Identity.FirmwareVersion,
	}, defaultFeatureBits, serviceName, cfg.MDNS.Port)
	if err != nil {
		return fmt.Errorf("building service advertiser: %w", err)
	}
	defer advertiser.Close()
	if err := advertiser.Publish(ctx); err != nil {
		return fmt.Errorf("publishing mDNS services: %w", err)
	}

	link := dmxlink.New(cfg.DMX, advertiser, cfg.DMX.Controller)
	defer link.Close()
	go link.Run(ctx)

	fxRegistry := fx.NewRegistry(fx.NewStandby(), fx.NewMajorPeak())
	loop := render.NewLoop(rackedBuf, link, fxRegistry)
	go loop.Run(ctx)

	saver, err := rtsp.NewSaver(cfg.RTSP.Saver)
	if err != nil {
		return fmt.Errorf("building RTSP saver: %w", err)
	}
	defer saver.Close()

	router := &rtsp.Router{
		Identity:    identity,
		Anchor:      anchorStore,
		Clock:       clock,
		Racked:      rackedBuf,
		Advertiser:  advertiser,
		Ports:       intake,
		Sessions:    intake,
		Config:      *cfg,
		FeatureBits: defaultFeatureBits,
	}

	log.Info("aircastd listening", "rtsp_port", rtspPort, "name", serviceName)

	acceptLoop(ctx, rtspListener, router, identity, saver)
	return nil
}

// acceptLoop runs the RTSP accept loop until ctx is cancelled, spawning
// one ServeConn goroutine per connection. Requests on a single
// connection are handled strictly in arrival order; ordering across
// connections is unconstrained.
func acceptLoop(ctx context.Context, ln net.Listener, router *rtsp.Router, identity *cipher.LongTermIdentity, saver *rtsp.Saver) {
	log := rlog.For("main")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("accept failed", "err", err)
			continue
		}
		go func() {
			if err := rtsp.ServeConn(ctx, conn, router, identity, saver); err != nil {
				log.Debug("rtsp connection ended", "err", err)
			}
		}()
	}
}

// deviceIDFromPublicKey derives a stable colon-separated hex device id
// (the shape AirPlay's "deviceid" TXT key and GET /info both expect)
// from the first 6 bytes of the receiver's long-term public key.
func deviceIDFromPublicKey(pub []byte) string {
	if len(pub) < 6 {
		return "00:00:00:00:00:00"
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = fmt.Sprintf("%02X", pub[i])
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += ":" + parts[i]
	}
	return out
}
