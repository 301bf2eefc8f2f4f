// Package rpc implements the frontend side of the backend wire protocol: a
// synchronous, length-terminated JSON request/response exchange over TCP.
//
// Requests are UTF-8 JSON objects; each wire message is the JSON payload
// followed by the literal terminator "$$$". Responses are framed the same
// way. Transport failures of any kind are recovered locally into a
// synthesized {"success": false} response - callers inspect the success
// field of the decoded response, they never see dial or read errors.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/visq/visq/codec"
)

// Terminator frames every wire message. The byte sequence cannot occur
// inside a JSON payload.
const Terminator = "$$$"

const (
	// DefaultTimeout bounds the receive loop of a single call.
	DefaultTimeout = 60 * time.Second

	// DefaultChunkSize is the read buffer size of the receive loop.
	DefaultChunkSize = 1024
)

// Config configures a Session.
type Config struct {
	Host string
	Port int

	// Timeout bounds connect and receive of one call. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// ChunkSize is the socket read size. Zero means DefaultChunkSize.
	ChunkSize int

	// DialLimiter optionally caps the connection rate to the backend. The
	// protocol opens a fresh socket per call, so a misbehaving poller can
	// otherwise turn into a dial storm.
	DialLimiter *rate.Limiter

	Logger *slog.Logger
}

// Session is a client session against one backend engine.
//
// A Session opens a fresh connection per call. Bytes received after a
// response terminator are retained and consumed by the next call on the
// same Session, so a backend that pipelines responses is not misread. A
// Session must not be used concurrently.
type Session struct {
	host      string
	port      int
	timeout   time.Duration
	chunkSize int
	limiter   *rate.Limiter
	log       *slog.Logger

	leftovers []byte

	// dial is swappable for tests.
	dial func(ctx context.Context) (net.Conn, error)
}

// NewSession creates a Session for the backend at cfg.Host:cfg.Port.
func NewSession(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		host:      host,
		port:      cfg.Port,
		timeout:   cfg.Timeout,
		chunkSize: cfg.ChunkSize,
		limiter:   cfg.DialLimiter,
		log:       log,
	}
	s.dial = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: s.timeout}
		return d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	}
	return s
}

// failureResponse is the synthesized reply for any transport failure.
func failureResponse() []byte {
	return []byte(`{"success":false}`)
}

// roundTrip sends one framed request and returns the raw JSON bytes of the
// response. It never returns an error for transport failures; those come
// back as a synthesized failure payload.
func (s *Session) roundTrip(ctx context.Context, request []byte) []byte {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return failureResponse()
		}
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.log.Warn("backend connect failed", "host", s.host, "port", s.port, "error", err)
		return failureResponse()
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	msg := append(append([]byte(nil), request...), Terminator...)
	if _, err := conn.Write(msg); err != nil {
		s.log.Warn("backend write failed", "port", s.port, "error", err)
		return failureResponse()
	}

	// Accumulate chunks until the terminator shows up. Anything following
	// it belongs to the next response on this Session.
	response := s.leftovers
	s.leftovers = nil
	chunk := make([]byte, s.chunkSize)
	for {
		if idx := bytes.Index(response, []byte(Terminator)); idx >= 0 {
			s.leftovers = append([]byte(nil), response[idx+len(Terminator):]...)
			return response[:idx]
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			response = append(response, chunk[:n]...)
			continue
		}
		if err != nil {
			s.log.Warn("backend read failed before terminator", "port", s.port, "error", err)
			return failureResponse()
		}
	}
}

// call marshals the request object, performs the round trip and decodes the
// response. Decode failures are treated like transport failures.
func (s *Session) call(ctx context.Context, req map[string]any) response {
	payload, err := codec.Default.Marshal(req)
	if err != nil {
		s.log.Error("request marshal failed", "func", req["func"], "error", err)
		return response{}
	}

	s.log.Debug("backend request", "port", s.port, "func", req["func"])

	var resp response
	if err := codec.Default.Unmarshal(s.roundTrip(ctx, payload), &resp); err != nil {
		s.log.Warn("response decode failed", "func", req["func"], "error", err)
		return response{}
	}
	return resp
}
