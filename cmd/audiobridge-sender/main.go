// ABOUTME: Entry point for the AudioBridge test-tone sender
// ABOUTME: Streams an encoded tone toward a receiver for link measurement
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/app"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/config"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/version"
)

var (
	configPath = flag.String("config", "", "YAML config file (defaults used when empty)")
	sendAddr   = flag.String("to", "", "Receiver UDP address (overrides config)")
	codecName  = flag.String("codec", "", "Codec: opus or pcm (overrides config)")
	redundancy = flag.Float64("redundancy", -1, "Initial FEC redundancy percent (overrides config)")
	noFEC      = flag.Bool("no-fec", false, "Disable FEC encoding")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	if *sendAddr != "" {
		cfg.SendAddr = *sendAddr
	}
	if *codecName != "" {
		cfg.Codec = *codecName
	}
	if *redundancy >= 0 {
		cfg.FEC.RedundancyPct = *redundancy
	}
	if *noFEC {
		cfg.EnableFEC = false
	}
	// The sender never opens an audio device.
	cfg.Sink = "mock"

	logrus.WithFields(logrus.Fields{
		"product": version.Product,
		"version": version.Version,
		"remote":  cfg.SendAddr,
	}).Info("Starting sender")

	sender, err := app.NewSender(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build sender")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		sender.Stop()
	}()

	if err := sender.Run(); err != nil {
		logrus.WithError(err).Fatal("Sender error")
	}
}
