// Package oplog provides the serialized append-only operational log shared
// by the dispatcher and the ledger store. Every event outcome, rejection, and
// connection lifecycle change lands here as one JSON line.
package oplog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/example/parksys/internal/wire"
)

// serializedWriter makes a single io.Writer safe for concurrent appends.
// One write call per log record keeps records from interleaving.
type serializedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *serializedWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Log is an append-only operational log sink.
type Log struct {
	logger *slog.Logger
	file   *os.File
}

// Open opens (or creates) the log file at path in append mode.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open operational log: %w", err)
	}
	return &Log{
		logger: slog.New(slog.NewJSONHandler(&serializedWriter{w: f}, nil)),
		file:   f,
	}, nil
}

// New wraps an arbitrary writer, for tests and in-process sinks.
func New(w io.Writer) *Log {
	return &Log{logger: slog.New(slog.NewJSONHandler(&serializedWriter{w: w}, nil))}
}

// Close flushes and closes the underlying file, when there is one.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ConnectionOpened records a newly accepted client connection.
func (l *Log) ConnectionOpened(connID, remoteAddr string) {
	l.logger.Info("connection opened", "conn", connID, "remote", remoteAddr)
}

// ConnectionClosed records the end of a client connection.
func (l *Log) ConnectionClosed(connID string, reason string) {
	l.logger.Info("connection closed", "conn", connID, "reason", reason)
}

// Recorded logs a successfully applied parking event.
func (l *Log) Recorded(connID string, req wire.Request, lotID int64, attrs ...any) {
	base := []any{
		"conn", connID,
		"type", req.Type.String(),
		"customer", req.LicenseID,
		"timestamp", req.Timestamp,
		"lat", req.Latitude,
		"lon", req.Longitude,
		"lot", lotID,
	}
	l.logger.Info("event recorded", append(base, attrs...)...)
}

// Dropped logs an event that was received but produced no ledger mutation.
func (l *Log) Dropped(connID string, req wire.Request, reason string, err error) {
	attrs := []any{
		"conn", connID,
		"type", req.Type.String(),
		"customer", req.LicenseID,
		"timestamp", req.Timestamp,
		"lat", req.Latitude,
		"lon", req.Longitude,
		"reason", reason,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	l.logger.Warn("event dropped", attrs...)
}

// Rejected logs a frame whose type byte is outside the known enumeration.
// The connection survives a rejection.
func (l *Log) Rejected(connID string, typeByte uint8) {
	l.logger.Warn("frame rejected", "conn", connID, "type_byte", typeByte)
}
