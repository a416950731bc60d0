// Command syncagent-server runs the coordination server (C1-C5): the
// metadata store, the encrypted chunk blob store, the authenticated REST
// API, and the notification hub. The bring-up sequence (logger, metrics,
// health checker, tracing, background loops, graceful shutdown on
// SIGINT/SIGTERM) is grounded on the teacher's daemon/main.go.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/syncagent/syncagent/internal/audit"
	"github.com/syncagent/syncagent/internal/chunkstore"
	"github.com/syncagent/syncagent/internal/config"
	"github.com/syncagent/syncagent/internal/hub"
	"github.com/syncagent/syncagent/internal/metadatastore"
	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/ratelimit"
	"github.com/syncagent/syncagent/internal/restapi"
	"github.com/syncagent/syncagent/internal/tlsutil"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "invite" {
		inviteCmd(os.Args[2:])
		return
	}
	serveCmd(os.Args[1:])
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	restAddr := fs.String("rest-addr", "", "REST listen address (overrides SYNCAGENT_REST_ADDR)")
	quicAddr := fs.String("quic-addr", "", "optional HTTP/3 listen address (overrides SYNCAGENT_QUIC_ADDR)")
	observAddr := fs.String("observ-addr", "", "observability server address (metrics/health/pprof)")
	dataDir := fs.String("data-dir", "", "data directory (overrides SYNCAGENT_DATA_DIR)")
	fs.Parse(args)

	logger := observability.NewLogger("syncagent-server", version, os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(version)

	if shutdown, err := observability.InitTracing(context.Background(), "syncagent-server"); err == nil {
		defer shutdown(context.Background())
	}

	cfg := config.DefaultServerConfig()
	if *restAddr != "" {
		cfg.RESTAddress = *restAddr
	}
	if *quicAddr != "" {
		cfg.QUICAddress = *quicAddr
	}
	if *observAddr != "" {
		cfg.ObservAddress = *observAddr
	}
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
		cfg.ChunkStoreDir = filepath.Join(*dataDir, "chunks")
		cfg.DatabasePath = filepath.Join(*dataDir, "syncagent.db")
	}

	logger.Info("syncagent-server starting")
	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		logger.Fatal(err, "failed to create data directory")
	}

	meta, err := metadatastore.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal(err, "failed to open metadata store")
	}
	defer meta.Close()

	chunks, err := chunkstore.New(cfg.ChunkStoreDir)
	if err != nil {
		logger.Fatal(err, "failed to open chunk store")
	}

	index, err := chunkstore.OpenIndex(filepath.Join(cfg.DataDirectory, "chunk_index.db"))
	if err != nil {
		logger.Fatal(err, "failed to open chunk index")
	}
	defer index.Close()

	if _, err := meta.EnsureServerMachine(); err != nil {
		logger.Fatal(err, "failed to ensure server machine record")
	}

	notifyHub := hub.New()
	auditLog := audit.New()
	limits := ratelimit.NewRegistry(cfg.RateLimitRPS, cfg.RateLimitBurst)

	apiServer := restapi.New(meta, chunks, index, notifyHub, logger, metrics, auditLog, limits)
	router := apiServer.Router()

	healthChecker.RegisterCheck("metadata_store", func(ctx context.Context) observability.ComponentHealth {
		if _, err := meta.ListMachines(); err != nil {
			return observability.ComponentHealth{Status: observability.HealthStatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.HealthStatusOK, Message: "metadata store responsive"}
	})
	healthChecker.RegisterCheck("chunk_store", observability.ChunkStoreCheck(cfg.ChunkStoreDir))
	healthChecker.RegisterCheck("hub", observability.HubCheck(notifyHub.ActiveClientCount))

	certPEM, keyPEM, err := tlsutil.GenerateSelfSigned()
	if err != nil {
		logger.Fatal(err, "failed to generate TLS certificate")
	}
	tlsConfig, err := tlsutil.Config(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "failed to build TLS config")
	}

	restServer := &http.Server{Addr: cfg.RESTAddress, Handler: router, TLSConfig: tlsConfig}
	go func() {
		// TLSConfig.Certificates is already populated, so no cert/key
		// files are needed here.
		if err := restServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "REST listener stopped")
		}
	}()
	logger.Info("REST API listening on " + cfg.RESTAddress)

	var stopHTTP3 func()
	if cfg.QUICAddress != "" {
		stopHTTP3 = restapi.StartHTTP3(cfg.QUICAddress, router, tlsConfig, logger)
		logger.Info("HTTP/3 listener started on " + cfg.QUICAddress)
	}

	go startObservabilityServer(cfg.ObservAddress, metrics, healthChecker, logger)

	stopGC := startBackgroundLoops(meta, chunks, index, auditLog, cfg, logger)

	logger.Info("syncagent-server running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	stopGC()
	if stopHTTP3 != nil {
		stopHTTP3()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = restServer.Shutdown(ctx)

	logger.Info("syncagent-server stopped")
}

// startBackgroundLoops starts the periodic chunk-GC and trash-purge loops,
// mirroring the teacher's service.StartCASGCLoop(24h, 1h) periodic-GC
// bring-up in daemon/main.go. No loop sweeps the rate-limiter registry.
func startBackgroundLoops(meta *metadatastore.Store, chunks *chunkstore.Store, index *chunkstore.Index,
	auditLog *audit.Log, cfg *config.ServerConfig, logger *observability.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := chunkstore.GC(chunks, index, 24*time.Hour, meta.ChunkReferenced)
				if err != nil {
					logger.Error(err, "chunk GC failed")
					continue
				}
				if removed > 0 {
					logger.Info(fmt.Sprintf("chunk GC removed %d unreferenced blobs", removed))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.TrashRetention)
				purged, err := meta.PurgeTrash(cutoff)
				if err != nil {
					logger.Error(err, "trash purge failed")
					continue
				}
				if purged > 0 {
					auditLog.TrashPurged(purged)
					logger.Info(fmt.Sprintf("trash purge removed %d file records", purged))
				}
			}
		}
	}()

	return cancel
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr + " (metrics, health, pprof)")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

// inviteCmd creates a single-use invitation token an operator hands to a
// new machine's "syncagent-client pair" step, mirroring the teacher's
// cmd/keygen subcommand-dispatch CLI shape.
func inviteCmd(args []string) {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "data directory (overrides SYNCAGENT_DATA_DIR)")
	ttl := fs.Duration("ttl", time.Hour, "how long the invitation stays valid")
	fs.Parse(args)

	cfg := config.DefaultServerConfig()
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
		cfg.DatabasePath = filepath.Join(*dataDir, "syncagent.db")
	}

	meta, err := metadatastore.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer meta.Close()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate invitation token: %v\n", err)
		os.Exit(1)
	}
	token := hex.EncodeToString(raw)

	if err := meta.CreateInvitation(hashInvitation(token), *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create invitation: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Invitation token (share with the new machine, valid for", ttl.String()+"):")
	fmt.Println(" ", token)
}

// hashInvitation matches restapi's hashToken (sha256 hex), so an
// invitation created here validates against what RegisterMachine checks.
func hashInvitation(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
