// ABOUTME: Entry point for the AudioBridge receiver
// ABOUTME: Parses CLI flags, loads config and starts the receive application
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
	listenAddr = flag.String("listen", "", "UDP listen address (overrides config)")
	statsAddr  = flag.String("stats", "", "Stats HTTP address (overrides config)")
	codecName  = flag.String("codec", "", "Codec: opus or pcm (overrides config)")
	sinkName   = flag.String("sink", "", "Output sink: oto or mock (overrides config)")
	noFEC      = flag.Bool("no-fec", false, "Disable FEC decoding")
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
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *statsAddr != "" {
		cfg.StatsAddr = *statsAddr
	}
	if *codecName != "" {
		cfg.Codec = *codecName
	}
	if *sinkName != "" {
		cfg.Sink = *sinkName
	}
	if *noFEC {
		cfg.EnableFEC = false
	}

	logrus.WithFields(logrus.Fields{
		"product": version.Product,
		"version": version.Version,
	}).Info("Starting receiver")

	receiver, err := app.NewReceiver(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build receiver")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		receiver.Stop()
	}()

	if err := receiver.Run(); err != nil {
		logrus.WithError(err).Fatal("Receiver error")
	}
}
