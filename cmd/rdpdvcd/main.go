// Command rdpdvcd wires Session State, the Channel Router, and the three DVC
// planes together against a loopback Collaborator stub, for local smoke
// testing of the RDPECAM/AUDIO_INPUT/CLIPRDR bridge without a real RDP
// endpoint or browser-facing gateway attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guacrelay/rdpdvc/pkg/audioinput"
	"github.com/guacrelay/rdpdvc/pkg/cliprdr"
	"github.com/guacrelay/rdpdvc/pkg/config"
	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/rdpecam"
	"github.com/guacrelay/rdpdvc/pkg/router"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

// loopbackCollaborator satisfies session.Collaborator by logging every
// outbound notification instead of delivering it to a real browser.
type loopbackCollaborator struct {
	log *logger.Logger
}

func (c *loopbackCollaborator) SendArgv(kind, value string) error {
	c.log.Info("collaborator: argv", "kind", kind, "value", value)
	return nil
}

func (c *loopbackCollaborator) SendAck(streamRef, message string, status session.AckStatus) error {
	c.log.Info("collaborator: ack", "stream_ref", streamRef, "message", message, "status", status.String())
	return nil
}

func (c *loopbackCollaborator) SendClipboard(mimetype, data string) error {
	c.log.Info("collaborator: clipboard", "mimetype", mimetype, "length", len(data))
	return nil
}

// loopbackTransport satisfies rdpecam.Transport / audioinput.Transport /
// cliprdr.Transport by logging the size of every write instead of sending
// bytes to a real RDP peer.
type loopbackTransport struct {
	log *logger.Logger
}

func (t *loopbackTransport) WriteChannel(channelName string, payload []byte) error {
	t.log.DebugRDPECAM("transport write", "channel", channelName, "bytes", len(payload))
	return nil
}

func main() {
	fs := flag.NewFlagSet("rdpdvcd", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RDP DVC bridge: RDPECAM + AUDIO_INPUT + CLIPRDR over a shared Session State\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting rdpdvcd", "log_config", logFlags.String())

	cfg, err := config.Load(".env")
	if err != nil {
		log.Warn("no .env found, using defaults", "error", err)
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collab := &loopbackCollaborator{log: log}
	transport := &loopbackTransport{log: log}

	sess := session.New(cfg, log, collab)
	sess.Start()
	defer sess.Stop()

	rtr := router.New()

	camPlane, err := rdpecam.NewCameraPlane(sess, rtr, cfg, log, transport)
	if err != nil {
		log.Error("failed to construct camera plane", "error", err)
		os.Exit(1)
	}
	_ = camPlane

	audioPlane, err := audioinput.NewPlane(sess, rtr, log, transport)
	if err != nil {
		log.Error("failed to construct audio-input plane", "error", err)
		os.Exit(1)
	}
	_ = audioPlane

	clipPlane, err := cliprdr.NewPlane(sess, rtr, log, transport, cfg.ClipboardMaxLength)
	if err != nil {
		log.Error("failed to construct clipboard plane", "error", err)
		os.Exit(1)
	}
	_ = clipPlane

	log.Info("all planes registered, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutting down")
}
