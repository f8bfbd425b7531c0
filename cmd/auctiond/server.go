package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/cloudx-io/blindauction/attest"
	"github.com/cloudx-io/blindauction/auction"
	"github.com/cloudx-io/blindauction/localprovider"
)

// Server serves the auction wire protocol over vsock or tcp. Each
// connection carries one JSON request and receives one JSON response.
type Server struct {
	cfg      *Config
	log      *zap.Logger
	engine   *auction.Engine
	provider *localprovider.Provider
	// attester is nil when receipts are disabled.
	attester attest.Attester
}

func NewServer(cfg *Config, log *zap.Logger, engine *auction.Engine, provider *localprovider.Provider, attester attest.Attester) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		provider: provider,
		attester: attester,
	}
}

func (s *Server) listen() (net.Listener, error) {
	switch s.cfg.Listen.Mode {
	case "vsock":
		listener, err := vsock.Listen(s.cfg.Listen.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return listener, nil
	default:
		listener, err := net.Listen("tcp", s.cfg.Listen.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return listener, nil
	}
}

func (s *Server) Start() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			s.log.Error("failed to close listener", zap.Error(err))
		}
	}()

	s.log.Info("auctiond listening",
		zap.String("mode", s.cfg.Listen.Mode),
		zap.String("addr", listener.Addr().String()),
		zap.String("auction_id", s.cfg.AuctionID))

	maxWorkers, err := getRequiredEnvInt("AUCTIOND_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}
	semaphore := make(chan struct{}, maxWorkers)

	s.log.Info("worker pool initialized", zap.Int("max_workers", maxWorkers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.log.Error("failed to accept connection", zap.Error(err))
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in connection handler", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.log.Error("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		s.log.Error("failed to read request", zap.Error(err))
		return
	}

	response := s.route(buf.Bytes())

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	return intValue, nil
}
