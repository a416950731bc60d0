// Command syncagent-client runs the sync agent (C6-C13): local state,
// the filesystem watcher, periodic scans, the remote change listener, the
// event queue, the coordinator, and the transfer dispatcher. Bring-up
// (logger, metrics, health checker, background goroutines, graceful
// shutdown on SIGINT/SIGTERM) is grounded on the teacher's daemon/main.go.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/syncagent/syncagent/internal/config"
	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/cryptutil"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/remotelistener"
	"github.com/syncagent/syncagent/internal/scanner"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/transfer"
	"github.com/syncagent/syncagent/internal/watcher"
	"github.com/syncagent/syncagent/internal/workerpool"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "pair" {
		pairCmd(os.Args[2:])
		return
	}
	runCmd(os.Args[1:])
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	syncRoot := fs.String("sync-root", "", "directory to sync (overrides SYNCAGENT_SYNC_ROOT)")
	serverURL := fs.String("server-url", "", "server base URL (overrides SYNCAGENT_SERVER_URL)")
	passphraseFlag := fs.String("passphrase", "", "keystore passphrase (prompted if omitted)")
	fs.Parse(args)

	logger := observability.NewLogger("syncagent-client", version, os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(version)

	cfg := config.DefaultClientConfig()
	if *syncRoot != "" {
		cfg.SyncRoot = *syncRoot
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	machineName, err := os.Hostname()
	if err != nil {
		machineName = "unknown-machine"
	}

	logger.Info("syncagent-client starting")
	if err := os.MkdirAll(cfg.SyncRoot, 0o755); err != nil {
		logger.Fatal(err, "failed to create sync root")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StateDBPath), 0o755); err != nil {
		logger.Fatal(err, "failed to create state directory")
	}

	passphrase := *passphraseFlag
	if passphrase == "" {
		passphrase = promptPassphrase()
	}
	key, keyID, err := cryptutil.LoadKey(cfg.KeystorePath, passphrase)
	if err != nil {
		logger.Fatal(err, "failed to unlock keystore; run 'syncagent-client pair' first")
	}
	logger.Info("keystore unlocked, key_id=" + keyID)

	state, err := localstate.Open(cfg.StateDBPath)
	if err != nil {
		logger.Fatal(err, "failed to open local state store")
	}
	defer state.Close()

	ignore, err := watcher.LoadIgnoreSet(filepath.Join(cfg.SyncRoot, cfg.IgnoreFilePath))
	if err != nil {
		logger.Fatal(err, "failed to load ignore rules")
	}

	client := serverclient.New(cfg.ServerURL, cfg.AuthToken, nil)
	sc := scanner.New(cfg.SyncRoot, state, ignore, client, logger, metrics)

	durable, err := eventqueue.OpenBoltDurable(filepath.Join(filepath.Dir(cfg.StateDBPath), "event_queue.db"))
	if err != nil {
		logger.Fatal(err, "failed to open durable event queue")
	}
	queue, err := eventqueue.New(durable)
	if err != nil {
		logger.Fatal(err, "failed to initialize event queue")
	}

	pool := workerpool.New(cfg.WorkerCount, cfg.WorkerCount*4, workerpool.AlwaysOnline{}, logger, metrics)
	defer pool.Stop()

	dispatcher := transfer.New(pool, client, state, key, cfg.SyncRoot, machineName, logger, metrics)

	onConflict := func(path string, t *coordinator.TransferState) {
		logger.Warn("upload for " + path + " cancelled by a concurrent remote change")
	}
	coord := coordinator.New(queue, state, dispatcher, onConflict, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coord.Run(ctx)

	fsWatcher, err := watcher.New(cfg.SyncRoot, ignore, logger, false)
	if err != nil {
		logger.Fatal(err, "failed to start filesystem watcher")
	}
	watcherStop := make(chan struct{})
	go fsWatcher.Run(watcherStop)
	go pumpLocalEvents(fsWatcher.Events(), cfg.SyncRoot, queue)

	listener := remotelistener.New(cfg.ServerURL, cfg.AuthToken, sc, logger)
	go listener.Run(ctx)
	go pumpScanEvents(listener.Events(), queue)

	go runScanLoop(ctx, sc, queue, cfg.ScanInterval, logger)

	healthChecker.RegisterCheck("keystore", observability.KeystoreCheck(true))
	healthChecker.RegisterCheck("server", observability.ServerReachableCheck(http.DefaultClient, cfg.ServerURL))
	go startObservabilityServer(cfg, metrics, healthChecker, logger)

	logger.Info("syncagent-client running, syncing " + cfg.SyncRoot)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	close(watcherStop)
	cancel()
	pool.Stop()
	durable.Close()

	logger.Info("syncagent-client stopped")
}

// pumpLocalEvents converts watcher.SyncEvents (absolute paths) into queue
// events (sync-root-relative paths), the same LOCAL_* taxonomy the
// coordinator's decision matrix (§4.11) expects.
func pumpLocalEvents(events <-chan watcher.SyncEvent, syncRoot string, queue *eventqueue.Queue) {
	for ev := range events {
		rel, err := filepath.Rel(syncRoot, ev.Path)
		if err != nil {
			continue
		}
		var kind eventqueue.Kind
		switch ev.Kind {
		case watcher.ChangeCreated:
			kind = eventqueue.KindLocalCreated
		case watcher.ChangeModified:
			kind = eventqueue.KindLocalModified
		case watcher.ChangeDeleted:
			kind = eventqueue.KindLocalDeleted
		default:
			continue
		}
		_ = queue.Put(eventqueue.Event{Kind: kind, Path: rel})
	}
}

// pumpScanEvents forwards scanner.Events (from a scan cycle or the remote
// listener's catch-up scan) onto the durable queue.
func pumpScanEvents(events <-chan scanner.Event, queue *eventqueue.Queue) {
	for ev := range events {
		if kind, ok := queueKindFor(ev.Kind); ok {
			_ = queue.Put(eventqueue.Event{Kind: kind, Path: ev.Path})
		}
	}
}

func queueKindFor(k scanner.EventKind) (eventqueue.Kind, bool) {
	switch k {
	case scanner.LocalCreated:
		return eventqueue.KindLocalCreated, true
	case scanner.LocalModified:
		return eventqueue.KindLocalModified, true
	case scanner.LocalDeleted:
		return eventqueue.KindLocalDeleted, true
	case scanner.RemoteCreated:
		return eventqueue.KindRemoteCreated, true
	case scanner.RemoteUpdated:
		return eventqueue.KindRemoteModified, true
	case scanner.RemoteDeleted:
		return eventqueue.KindRemoteDeleted, true
	default:
		return "", false
	}
}

// runScanLoop drives the periodic local+remote scan cycle (§4.7), feeding
// both into the same queue the watcher and remote listener use.
func runScanLoop(ctx context.Context, sc *scanner.Scanner, queue *eventqueue.Queue, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			localEvents, err := sc.LocalScan()
			if err != nil {
				logger.Error(err, "local scan failed")
			}
			for _, ev := range localEvents {
				if kind, ok := queueKindFor(ev.Kind); ok {
					_ = queue.Put(eventqueue.Event{Kind: kind, Path: ev.Path})
				}
			}

			remoteEvents, err := sc.RemoteScan(ctx)
			if err != nil {
				logger.Error(err, "remote scan failed")
				continue
			}
			for _, ev := range remoteEvents {
				if kind, ok := queueKindFor(ev.Kind); ok {
					_ = queue.Put(eventqueue.Event{Kind: kind, Path: ev.Path})
				}
			}
		}
	}
}

func startObservabilityServer(cfg *config.ClientConfig, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	addr := "127.0.0.1:9091"
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.Handle("/health", health.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr + " (metrics, health)")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

func promptPassphrase() string {
	fmt.Print("Keystore passphrase: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read passphrase: %v\n", err)
		os.Exit(1)
	}
	return string(b)
}

// pairCmd registers this machine with the server using an invitation
// token (from "syncagent-server invite"), prints the resulting bearer
// token for SYNCAGENT_AUTH_TOKEN (it is not stored), and writes a fresh or
// user-supplied shared key to the keystore.
// Mirrors the teacher's cmd/keygen subcommand-dispatch CLI shape.
func pairCmd(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	serverURL := fs.String("server-url", "", "server base URL (overrides SYNCAGENT_SERVER_URL)")
	name := fs.String("name", "", "this machine's display name (defaults to hostname)")
	invitation := fs.String("invitation", "", "invitation token from 'syncagent-server invite'")
	sharedKeyHex := fs.String("shared-key", "", "existing shared key as hex (generates a new one if omitted)")
	fs.Parse(args)

	cfg := config.DefaultClientConfig()
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *invitation == "" {
		fmt.Fprintln(os.Stderr, "missing -invitation token")
		os.Exit(1)
	}

	machineName := *name
	if machineName == "" {
		machineName, _ = os.Hostname()
	}

	client := serverclient.New(cfg.ServerURL, "", nil)
	token, err := serverclient.RegisterMachine(context.Background(), client, machineName, runtime.GOOS, *invitation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register machine: %v\n", err)
		os.Exit(1)
	}
	cfg.AuthToken = token

	var key []byte
	if *sharedKeyHex != "" {
		key, err = decodeHexKey(*sharedKeyHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -shared-key: %v\n", err)
			os.Exit(1)
		}
	} else {
		key, err = cryptutil.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate shared key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Generated a new shared key. Use the same -shared-key on every other machine:")
		fmt.Printf("  %x\n", key)
	}

	passphrase := promptNewPassphrase()
	if err := cryptutil.SaveKey(key, cfg.KeystorePath, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save keystore: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Paired successfully. Keystore saved.")
	fmt.Println("Set SYNCAGENT_AUTH_TOKEN to authenticate future runs:")
	fmt.Println("  export SYNCAGENT_AUTH_TOKEN=" + token)
}

func decodeHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != cryptutil.KeySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", cryptutil.KeySize, len(key))
	}
	return key, nil
}

func promptNewPassphrase() string {
	fmt.Print("New keystore passphrase (leave empty for none): ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read passphrase: %v\n", err)
		os.Exit(1)
	}
	return string(b)
}
