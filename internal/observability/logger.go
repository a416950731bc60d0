// Package observability provides the structured logging, metrics, tracing
// and health-check plumbing shared by the SyncAgent server and client.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with SyncAgent's domain-specific helper methods.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a structured logger tagged with service/version/host.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", hostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithMachine adds machine_id context to the logger.
func (l *Logger) WithMachine(machineID string) *Logger {
	return &Logger{logger: l.logger.With().Str("machine_id", machineID).Logger()}
}

// WithPath adds path context to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{logger: l.logger.With().Str("path", path).Logger()}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }

func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// ScanStarted logs a scan cycle beginning.
func (l *Logger) ScanStarted(kind string) {
	l.logger.Info().Str("scan_kind", kind).Msg("scan cycle started")
}

// EventEmitted logs a SyncEvent entering the queue.
func (l *Logger) EventEmitted(eventType, path string) {
	l.logger.Debug().Str("event_type", eventType).Str("path", path).Msg("event emitted")
}

// TransferStarted logs a transfer (upload/download/delete) beginning.
func (l *Logger) TransferStarted(transferType, path string, size int64) {
	l.logger.Info().
		Str("transfer_type", transferType).
		Str("path", path).
		Int64("size", size).
		Msg("transfer started")
}

// TransferProgress logs chunk-level transfer progress.
func (l *Logger) TransferProgress(path string, chunksDone, totalChunks int, elapsed time.Duration) {
	var pct float64
	if totalChunks > 0 {
		pct = float64(chunksDone) / float64(totalChunks) * 100.0
	}
	l.logger.Info().
		Str("path", path).
		Int("chunks_done", chunksDone).
		Int("total_chunks", totalChunks).
		Float64("progress_percent", pct).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("transfer progress")
}

// TransferCompleted logs a successful transfer.
func (l *Logger) TransferCompleted(transferType, path string, duration time.Duration, version int) {
	l.logger.Info().
		Str("transfer_type", transferType).
		Str("path", path).
		Float64("duration_seconds", duration.Seconds()).
		Int("version", version).
		Msg("transfer completed successfully")
}

// ConflictDetected logs a real (non-false) conflict and its copy path.
func (l *Logger) ConflictDetected(path, conflictCopyPath string, serverVersion int) {
	l.logger.Warn().
		Str("path", path).
		Str("conflict_copy", conflictCopyPath).
		Int("server_version", serverVersion).
		Msg("conflict detected, local file renamed to conflict copy")
}

// ChunkDecryptFailed logs an AEAD verification failure during download.
func (l *Logger) ChunkDecryptFailed(path, chunkHash string, err error) {
	l.logger.Error().
		Str("path", path).
		Str("chunk_hash", chunkHash).
		Err(err).
		Msg("chunk decryption failed")
}

// NetworkWait logs the worker pool entering wait_for_network.
func (l *Logger) NetworkWait(path string) {
	l.logger.Warn().Str("path", path).Msg("network unavailable, waiting for reconnect")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
