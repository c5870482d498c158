// Command emberkv-server boots the RESP server: load configuration,
// start the expiration sweeper and eviction sampler, open the RESP
// TCP/TLS listener and the side admin HTTP listener, and wait for a
// shutdown signal.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/emberkv/emberkv/adminapi"
	"github.com/emberkv/emberkv/config"
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/eviction"
	"github.com/emberkv/emberkv/expire"
	"github.com/emberkv/emberkv/handler"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/logger"
	"github.com/emberkv/emberkv/metrics"
	"github.com/emberkv/emberkv/persistence"
	"github.com/emberkv/emberkv/pubsub"
	"github.com/emberkv/emberkv/scripting"
	"github.com/emberkv/emberkv/txlock"
)

var (
	// Version is overridden at build time via -ldflags "-X main.Version=...".
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("emberkv-config", "", "path to a YAML config file (optional)")
		dataDir     = flag.String("emberkv-data-dir", "", "override the data directory (rdb/aof/config-overrides.db)")
		numShards   = flag.Int("emberkv-shards", 32, "number of keyspace shards")
		workerPool  = flag.Int("emberkv-workers", 64, "bounded worker pool size for NBLPOP continuations")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("emberkv-server v%s (built %s)\n", Version, BuildDate)
		os.Exit(0)
	}

	cfg := config.Default()
	cfg.ApplyEnv()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "emberkv-server: %v\n", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	var level logger.Level
	switch cfg.LogLevel {
	case "trace":
		level = logger.TRACE
	case "debug":
		level = logger.DEBUG
	case "warn":
		level = logger.WARN
	case "error":
		level = logger.ERROR
	default:
		level = logger.INFO
	}
	format := logger.FormatConsole
	if cfg.LogFormat == "json" {
		format = logger.FormatJSON
	}
	logger.Init(level, format)
	defer logger.Sync()
	log := logger.For("main")

	mgr, err := config.NewManager(cfg.DataDir, cfg)
	if err != nil {
		log.Error("opening config override store: " + err.Error())
		os.Exit(1)
	}
	defer mgr.Close()

	ks := keyspace.New(*numShards)

	expireIdx := expire.New(ks, cfg.ExpireCheckInterval, cfg.ExpirationSampleCount)
	ks.SetExpirationNotifier(expireIdx)
	expireIdx.Start()
	defer expireIdx.Stop()

	evictionEngine := eviction.New(ks, cfg.MaxMemory, eviction.Policy(cfg.MaxMemoryPolicy), cfg.MaxMemorySamples)
	evictionEngine.Start()
	defer evictionEngine.Stop()

	lruStop := make(chan struct{})
	go keyspace.StartLRUClock(lruStop)
	defer close(lruStop)

	coord := txlock.New(ks)
	bus := pubsub.New()
	interpreter := scripting.NewInterpreter()

	pool, err := dispatch.NewPool(*workerPool)
	if err != nil {
		log.Error("creating worker pool: " + err.Error())
		os.Exit(1)
	}
	defer pool.Release()

	var aofSink *persistence.Sink
	if cfg.AOFFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AOFFilePath), 0o755); err != nil {
			log.Error("creating AOF directory: " + err.Error())
			os.Exit(1)
		}
		aofSink, err = persistence.NewSink(cfg.AOFFilePath, persistence.FsyncPolicy(cfg.AOFAppendFsync), 4096)
		if err != nil {
			log.Error("opening AOF sink: " + err.Error())
			os.Exit(1)
		}
		if err := aofSink.Start(); err != nil {
			log.Error("starting AOF sink: " + err.Error())
			os.Exit(1)
		}
		defer aofSink.Stop()
	}

	registry := prometheus.NewRegistry()
	metricsSink := metrics.NewPromSink(registry)

	srv := handler.NewServer(cfg, ks, coord, bus, aofSink, metricsSink, interpreter, evictionEngine, expireIdx, pool)
	srv.ConfigMgr = mgr

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("listening on " + addr + ": " + err.Error())
		os.Exit(1)
	}

	// listeners is the set of long-running accept loops this process
	// supervises; errgroup collects whichever ones report a non-graceful
	// error so the final log line reflects all of them, not just the first.
	var listeners errgroup.Group

	log.Info("RESP server listening on " + addr)
	listeners.Go(func() error {
		return srv.Serve(ln)
	})

	var tlsLn net.Listener
	if cfg.TLSPort > 0 {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			log.Error("loading TLS certificate: " + err.Error())
			os.Exit(1)
		}
		tlsAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.TLSPort)
		tlsLn, err = tls.Listen("tcp", tlsAddr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			log.Error("listening on " + tlsAddr + ": " + err.Error())
			os.Exit(1)
		}
		log.Info("RESP TLS server listening on " + tlsAddr)
		listeners.Go(func() error {
			return srv.Serve(tlsLn)
		})
	}

	swaggerJSON, err := os.ReadFile(filepath.Join("adminapi", "swagger.json"))
	if err != nil {
		swaggerJSON = []byte(`{}`)
	}
	admin := adminapi.New(cfg.AdminHTTPAddr, registry, srv, swaggerJSON)
	listeners.Go(func() error {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info(fmt.Sprintf("received signal %v, shutting down", sig))

	srv.Shutdown()
	_ = ln.Close()
	if tlsLn != nil {
		_ = tlsLn.Close()
	}
	_ = admin.Shutdown()

	if err := listeners.Wait(); err != nil {
		log.Error("a listener reported an error during shutdown: " + err.Error())
	}

	log.Info("shutdown complete")
}
