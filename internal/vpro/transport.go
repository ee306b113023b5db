package vpro

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/ember"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultWriteTimeout   = 2 * time.Second
)

// Dialer opens network connections. *net.Dialer satisfies it; tests inject
// spies.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TransportConfig holds the per-phase deadlines of a session.
type TransportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Transport opens Ember+ sessions. It holds no connections itself; every
// Open dials a fresh one.
type Transport struct {
	dialer Dialer
	cfg    TransportConfig
	logger *zap.Logger
}

func NewTransport(cfg TransportConfig, dialer Dialer, logger *zap.Logger) *Transport {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		dialer: dialer,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Config returns the effective deadlines.
func (t *Transport) Config() TransportConfig {
	return t.cfg
}

// Open dials the device. The caller must Close the returned session.
func (t *Transport) Open(ctx context.Context, addr DeviceAddress) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrCancelled, PhaseConnect, "cancelled before dialing", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	conn, err := t.dialer.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(ErrCancelled, PhaseConnect, "cancelled while dialing", ctxErr)
		}
		return nil, newError(ErrConnection, PhaseConnect, fmt.Sprintf("cannot reach %s", addr), err)
	}

	s := &Session{
		ID:           uuid.New(),
		addr:         addr,
		conn:         conn,
		reader:       ember.NewReader(conn),
		readTimeout:  t.cfg.ReadTimeout,
		writeTimeout: t.cfg.WriteTimeout,
	}
	s.logger = t.logger.With(
		zap.String("device", addr.String()),
		zap.String("session", s.ID.String()))
	s.logger.Debug("Session opened")

	return s, nil
}

// Session is one Ember+ conversation with a device. It is not safe for
// concurrent use and is never reused after Close.
type Session struct {
	ID uuid.UUID

	addr         DeviceAddress
	conn         net.Conn
	reader       *ember.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Address returns the device this session talks to.
func (s *Session) Address() DeviceAddress {
	return s.addr
}

// ReplyMatcher reports whether a complete EmBER message answers the request
// in flight. Providers push parameter updates to consumers at any time, so
// messages that do not match are skipped.
type ReplyMatcher func(payload []byte) bool

// SendAndReceive sends one Glow payload and returns the payload of the next
// complete EmBER message.
func (s *Session) SendAndReceive(ctx context.Context, payload []byte) ([]byte, error) {
	return s.Exchange(ctx, payload, nil)
}

// Exchange sends one Glow payload and returns the first complete EmBER
// message accepted by match. A nil match accepts the first message.
// Keep-alive requests are answered on the way. The read timeout bounds the
// whole exchange, including skipped messages.
func (s *Session) Exchange(ctx context.Context, payload []byte, match ReplyMatcher) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrCancelled, PhaseExchange, "cancelled before sending", err)
	}

	now := time.Now()
	readDeadline := now.Add(s.readTimeout)
	if err := s.conn.SetWriteDeadline(now.Add(s.writeTimeout)); err != nil {
		return nil, newError(ErrIO, PhaseExchange, "set write deadline", err)
	}
	if err := s.conn.SetReadDeadline(readDeadline); err != nil {
		return nil, newError(ErrIO, PhaseExchange, "set read deadline", err)
	}

	// Cancellation pulls the deadline into the past, which unblocks any
	// pending read or write.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := s.conn.Write(ember.EncodeMessage(payload)); err != nil {
		return nil, s.classify(ctx, err, "write request", ErrIO)
	}
	s.logger.Debug("Request sent", zap.Int("bytes", len(payload)))

	var asm ember.Assembler
	for {
		frame, err := s.reader.ReadFrame()
		if err != nil {
			return nil, s.classify(ctx, err, "read response", ErrProtocolTimeout)
		}

		switch frame.Command {
		case ember.CommandKeepAliveRequest:
			if err := s.answerKeepAlive(ctx, readDeadline); err != nil {
				return nil, err
			}
			continue
		case ember.CommandKeepAliveResponse:
			continue
		}

		msg, done, err := asm.Add(frame)
		if err != nil {
			return nil, newError(ErrProtocol, PhaseExchange, "reassemble message", err)
		}
		if !done {
			continue
		}
		if match != nil && !match(msg) {
			s.logger.Debug("Skipping unsolicited message", zap.Int("bytes", len(msg)))
			continue
		}
		s.logger.Debug("Response received", zap.Int("bytes", len(msg)))
		return msg, nil
	}
}

// answerKeepAlive replies to a device keep-alive. The write gets a fresh
// write timeout, capped at the read deadline of the exchange.
func (s *Session) answerKeepAlive(ctx context.Context, readDeadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return newError(ErrCancelled, PhaseExchange, "write keep-alive aborted", err)
	}
	deadline := time.Now().Add(s.writeTimeout)
	if deadline.After(readDeadline) {
		deadline = readDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return newError(ErrIO, PhaseExchange, "set write deadline", err)
	}
	if _, err := s.conn.Write(ember.EncodeKeepAlive(ember.CommandKeepAliveResponse)); err != nil {
		return s.classify(ctx, err, "write keep-alive", ErrIO)
	}
	return nil
}

// classify maps a transport error to a kind. timeoutKind is used when the
// deadline expired without cancellation.
func (s *Session) classify(ctx context.Context, err error, op string, timeoutKind error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(ErrCancelled, PhaseExchange, op+" aborted", ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		detail := fmt.Sprintf("%s: no complete reply within %s", op, s.readTimeout)
		if timeoutKind != ErrProtocolTimeout {
			detail = fmt.Sprintf("%s: timed out after %s", op, s.writeTimeout)
		}
		return newError(timeoutKind, PhaseExchange, detail, err)
	}

	if errors.Is(err, ember.ErrFrame) || errors.Is(err, ember.ErrCRC) {
		return newError(ErrProtocol, PhaseExchange, op, err)
	}

	return newError(ErrIO, PhaseExchange, op, err)
}

// Close releases the connection. It is safe to call more than once; the
// connection is closed exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.logger.Debug("Session closed")
	})
	return s.closeErr
}
