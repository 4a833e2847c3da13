// Package server implements the request-dispatch server: it accepts field
// device connections, reads fixed-size event frames, resolves each event to
// the nearest lot, and drives the ledger store. The protocol is strictly
// fire-and-forget; no bytes are ever written back to a client.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/parksys/internal/ledger"
	"github.com/example/parksys/internal/logging"
	"github.com/example/parksys/internal/oplog"
	"github.com/example/parksys/internal/wire"
)

// Config carries the dispatcher's runtime settings.
type Config struct {
	// Addr is the TCP listen address, e.g. "0.0.0.0:12321".
	Addr string
	// AcceptTimeout bounds each accept wait; on expiry the loop polls the
	// shutdown context and retries. Not an error, just a poll cycle.
	AcceptTimeout time.Duration
	// ReadTimeout bounds each frame read when > 0. Field devices hold idle
	// connections between events, so zero (no deadline) is the default.
	ReadTimeout time.Duration
}

// Server is the connection dispatcher. Each accepted connection gets an
// independent worker; the ledger store serializes the actual mutations.
type Server struct {
	cfg    Config
	store  *ledger.Store
	oplog  *oplog.Log
	logger *slog.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	draining bool
}

// New constructs a dispatcher over the given store and operational log.
func New(cfg Config, store *ledger.Store, opLog *oplog.Log, logger *slog.Logger) *Server {
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		oplog:  opLog,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Run listens on the configured address and serves connections until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from the given listener until the context is
// cancelled, then closes the listener and every live connection and waits
// for the workers to drain.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		listener.Close()
		return fmt.Errorf("serve: %T is not a TCP listener", listener)
	}
	s.logger.Info("listening", "addr", listener.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		tcpListener.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		for {
			if err := tcpListener.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
				return fmt.Errorf("set accept deadline: %w", err)
			}

			conn, err := tcpListener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				s.logger.Error("accept failed", "error", err)
				continue
			}

			// The shutdown goroutine may have already swept the
			// connection set; never hold a socket it cannot see.
			if !s.track(conn) {
				return nil
			}
			g.Go(func() error {
				defer s.untrack(conn)
				s.handleConn(conn)
				return nil
			})
		}
	})

	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}

// track registers a live connection. It refuses (and closes) the connection
// when the server is already draining.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	for conn := range s.conns {
		conn.Close()
	}
}

// handleConn reads frames until the peer closes, a transport error occurs, or
// the stream desynchronizes. A rejected type byte is logged and skipped; a
// malformed single frame must not kill an otherwise healthy connection.
func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	logger := s.logger.With("conn", connID, "remote", conn.RemoteAddr().String())

	logger.Info("client connected")
	s.oplog.ConnectionOpened(connID, conn.RemoteAddr().String())

	reason := "peer closed"
	defer func() {
		logger.Info("client disconnected", "reason", reason)
		s.oplog.ConnectionClosed(connID, reason)
	}()

	buf := make([]byte, wire.FrameSize)
	for {
		if s.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				reason = "set deadline failed"
				return
			}
		}

		_, err := io.ReadFull(conn, buf)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, io.ErrUnexpectedEOF):
			// Peer died mid-frame. No resynchronization is possible
			// without framing, so the connection is torn down.
			reason = "truncated frame"
			return
		default:
			reason = "read failed"
			logger.Warn("read failed", "error", err)
			return
		}

		req, err := wire.Decode(buf)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownType) {
				logger.Warn("rejected frame", "type_byte", buf[0])
				s.oplog.Rejected(connID, buf[0])
				continue
			}
			reason = "protocol error"
			logger.Warn("protocol error", "error", err)
			return
		}

		s.dispatch(connID, logger, req)
	}
}

// dispatch resolves the event's lot and applies it to the ledger. Store and
// resolution failures drop the event and keep the connection alive.
//
// Store calls run on a background context carrying the connection logger:
// closing the socket never interrupts an in-flight mutation, but store-side
// log lines still name the connection that triggered them.
func (s *Server) dispatch(connID string, logger *slog.Logger, req wire.Request) {
	eventTime := time.Unix(int64(req.Timestamp), 0).UTC()
	ctx := logging.ContextWithLogger(context.Background(), logger)

	lot, err := s.store.FindClosestLot(float64(req.Latitude), float64(req.Longitude))
	if err != nil {
		s.oplog.Dropped(connID, req, "no lot found", err)
		return
	}

	switch req.Type {
	case wire.TypeStart:
		sess, err := s.store.StartParking(ctx, lot.ID, req.LicenseID, eventTime)
		if err != nil {
			s.oplog.Dropped(connID, req, "start failed", err)
			return
		}
		s.oplog.Recorded(connID, req, lot.ID, "session", sess.ID)

	case wire.TypeStop:
		sess, err := s.store.EndParking(ctx, req.LicenseID, eventTime)
		if err != nil {
			s.oplog.Dropped(connID, req, "stop failed", err)
			return
		}
		s.oplog.Recorded(connID, req, sess.LotID,
			"session", sess.ID,
			"duration_sec", sess.DurationSec.Int64,
			"price", sess.TotalPrice.Float64,
		)

	case wire.TypeIdle:
		// Received and acknowledged in the log only; no ledger mutation.
		logger.Debug("idle report", "customer", req.LicenseID)
	}
}
