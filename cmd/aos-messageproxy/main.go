// Command aos-messageproxy multiplexes a single hypervisor byte
// transport into the IAM and CM control-plane gRPC streams. See
// internal/app for the wiring and internal/config for the configuration
// file schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/aosedge/aos-messageproxy/internal/app"
	"github.com/aosedge/aos-messageproxy/internal/config"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/transport"
	"github.com/aosedge/aos-messageproxy/internal/transport/tcp"
	"github.com/aosedge/aos-messageproxy/internal/transport/vchan"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultConfigFile is used when -c/--config is not given.
const defaultConfigFile = "aos_message_proxy.cfg"

type args struct {
	configFile   string
	provisioning bool
	journal      bool
	verbose      string
	tcpAddr      string
	showVersion  bool
}

func parseArgs(argv []string) (*args, error) {
	fs := flag.NewFlagSet("aos-messageproxy", flag.ContinueOnError)
	a := &args{}
	fs.StringVar(&a.configFile, "c", defaultConfigFile, "configuration file path")
	fs.StringVar(&a.configFile, "config", defaultConfigFile, "configuration file path")
	fs.BoolVar(&a.provisioning, "p", false, "run in provisioning mode")
	fs.BoolVar(&a.provisioning, "provisioning", false, "run in provisioning mode")
	fs.BoolVar(&a.journal, "j", false, "log to the systemd journal instead of stderr")
	fs.BoolVar(&a.journal, "journal", false, "log to the systemd journal instead of stderr")
	fs.StringVar(&a.verbose, "v", "info", "log level: debug, info, warn, error")
	fs.StringVar(&a.verbose, "verbose", "info", "log level: debug, info, warn, error")
	fs.StringVar(&a.tcpAddr, "tcp", "", "dial this TCP address instead of the configured vChan transport (development/test use only)")
	fs.BoolVar(&a.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	return a, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	a, err := parseArgs(argv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if a.showVersion {
		fmt.Println("aos-messageproxy", version)
		return 0
	}

	level, err := logger.ParseLevel(a.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	sink := logger.Sink(logger.NewStderrSink())
	if a.journal {
		if !logger.Enabled() {
			fmt.Fprintln(os.Stderr, "journal logging requested but the systemd journal is not reachable; falling back to stderr")
		} else {
			sink = logger.NewJournalSink()
		}
	}
	log := logger.New(sink, level)

	cfg, err := config.Load(a.configFile)
	if err != nil {
		log.Errorf("loading configuration: %s", err)
		return 1
	}

	mode := app.ModeNormal
	if a.provisioning {
		mode = app.ModeProvisioning
	}

	daemonApp, err := app.New(cfg, mode, buildTransport(a, cfg), log)
	if err != nil {
		log.Errorf("initializing: %s", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Infof("received shutdown signal")
		cancel()
	}()

	if _, err := sdNotifyReady(); err != nil {
		log.Warnf("sd_notify READY=1 failed: %s", err)
	}

	daemonApp.Run(ctx)
	_ = daemonApp.Close()
	log.Infof("stopped")
	return 0
}

// buildTransport picks the byte transport: a TCP dial target when -tcp
// is given (development/test use), otherwise the configured vChan ring.
// The vchan package currently ships the configuration surface and a
// stub; swap in a real ring-backed Transport there once one is
// available.
func buildTransport(a *args, cfg *config.Config) transport.Transport {
	if a.tcpAddr != "" {
		return tcp.Dial(a.tcpAddr)
	}
	return vchan.New(vchan.Config{
		Domain:         cfg.VChan.Domain,
		XSRXPath:       cfg.VChan.XSRXPath,
		XSTXPath:       cfg.VChan.XSTXPath,
		IAMCertStorage: cfg.VChan.IAMCertStorage,
		SMCertStorage:  cfg.VChan.SMCertStorage,
	})
}

func sdNotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}
