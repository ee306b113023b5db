package vpro

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/vprocontrol/internal/ember"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMatrixPath is where Lawo VPRO units publish their video matrix.
const DefaultMatrixPath = "pro8/Video-Matrix/Matrix"

// defaultLabelBase holds the target (.1) and source (.2) label nodes when
// the matrix announces none.
var defaultLabelBase = ember.Path{1, 10, 1}

// Config selects the matrix and label elements on the device.
type Config struct {
	// MatrixPath is either a numeric path ("1.10.2") or an identifier
	// path ("pro8/Video-Matrix/Matrix") resolved with GetDirectory.
	MatrixPath string

	// TargetLabelsPath and SourceLabelsPath override the label nodes
	// announced by the matrix (basePath.1 and basePath.2).
	TargetLabelsPath string
	SourceLabelsPath string

	FetchLabels bool
}

// Client runs matrix queries and connect commands against VPRO devices.
// Each call uses its own session, so a Client is safe for concurrent use.
// Connect commands to the same device are not serialized here; callers that
// need that must hold a per-device lock around IssueConnection.
type Client struct {
	transport    *Transport
	matrixPath   ember.Path
	identifiers  []string
	targetLabels ember.Path
	sourceLabels ember.Path
	fetchLabels  bool
	logger       *zap.Logger
}

func NewClient(cfg Config, transport *Transport, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport:   transport,
		fetchLabels: cfg.FetchLabels,
		logger:      logger,
	}

	matrixPath := strings.TrimSpace(cfg.MatrixPath)
	if matrixPath == "" {
		matrixPath = DefaultMatrixPath
	}
	if p, err := ember.ParsePath(matrixPath); err == nil {
		c.matrixPath = p
	} else {
		for _, part := range strings.Split(matrixPath, "/") {
			if part = strings.TrimSpace(part); part != "" {
				c.identifiers = append(c.identifiers, part)
			}
		}
	}

	var err error
	if cfg.TargetLabelsPath != "" {
		if c.targetLabels, err = ember.ParsePath(cfg.TargetLabelsPath); err != nil {
			return nil, fmt.Errorf("target labels path: %w", err)
		}
	}
	if cfg.SourceLabelsPath != "" {
		if c.sourceLabels, err = ember.ParsePath(cfg.SourceLabelsPath); err != nil {
			return nil, fmt.Errorf("source labels path: %w", err)
		}
	}
	return c, nil
}

// QueryMatrix reads the full routing matrix of the device at addr.
func (c *Client) QueryMatrix(ctx context.Context, addr DeviceAddress) (*MatrixState, error) {
	log := c.opLogger("query_matrix", addr)

	session, err := c.transport.Open(ctx, addr)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseConnect, addr))
	}
	defer c.release(log, session)

	path, err := c.resolve(ctx, session)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseResolve, addr))
	}

	reply, err := session.Exchange(ctx, EncodeDiscoveryRequest(path), MatrixReply(path))
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseExchange, addr))
	}

	state, labelBase, err := decodeMatrixWithLabels(path, reply)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseDecode, addr))
	}

	if c.fetchLabels {
		if err := c.loadLabels(ctx, session, state, labelBase); err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, c.fail(log, annotate(err, PhaseExchange, addr))
			}
			log.Warn("Label lookup failed, using default labels", zap.Error(err))
		}
	}

	log.Debug("Matrix queried",
		zap.String("path", state.Path),
		zap.Int("connections", len(state.Connections)))
	return state, nil
}

// IssueConnection asks the device to route req.Source to req.Target. The
// request is validated before any network I/O. It is sent exactly once.
func (c *Client) IssueConnection(ctx context.Context, req ConnectionRequest) (*ConnectionResult, error) {
	log := c.opLogger("issue_connection", req.Device).With(
		zap.Int("source", req.Source),
		zap.Int("target", req.Target))

	if err := req.Validate(); err != nil {
		return nil, c.fail(log, annotate(err, PhaseValidate, req.Device))
	}

	session, err := c.transport.Open(ctx, req.Device)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseConnect, req.Device))
	}
	defer c.release(log, session)

	path, err := c.resolve(ctx, session)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseResolve, req.Device))
	}

	payload, err := EncodeConnectRequest(path, req.Source, req.Target)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseEncode, req.Device))
	}

	reply, err := session.Exchange(ctx, payload, MatrixReply(path))
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseExchange, req.Device))
	}

	result, err := DecodeConnectResponse(path, req.Source, req.Target, reply)
	if err != nil {
		return nil, c.fail(log, annotate(err, PhaseDecode, req.Device))
	}

	if result.Acknowledged() {
		log.Info("Connection acknowledged", zap.Bool("pending", result.Pending))
	} else {
		log.Warn("Connection rejected by device", zap.String("reason", result.Reason))
	}
	return result, nil
}

// resolve returns the numeric matrix path, walking the tree by identifier
// when the path was configured that way.
func (c *Client) resolve(ctx context.Context, s *Session) (ember.Path, error) {
	if c.matrixPath != nil {
		return c.matrixPath, nil
	}

	current := ember.Path{}
	for i, ident := range c.identifiers {
		reply, err := s.Exchange(ctx, EncodeDirectoryRequest(current), DirectoryReply(current))
		if err != nil {
			return nil, withPhase(err, PhaseResolve)
		}
		children, err := DecodeDirectoryResponse(current, reply)
		if err != nil {
			return nil, withPhase(err, PhaseResolve)
		}

		var next ember.Path
		for _, child := range children {
			if child.Identifier == ident {
				next = child.Path
				break
			}
		}
		if next == nil {
			return nil, newError(ErrProtocol, PhaseResolve,
				fmt.Sprintf("no element %q below %q", ident, strings.Join(c.identifiers[:i], "/")), nil)
		}
		current = next
	}
	return current, nil
}

func (c *Client) loadLabels(ctx context.Context, s *Session, state *MatrixState, base ember.Path) error {
	targets, sources := c.targetLabels, c.sourceLabels
	if base == nil {
		base = defaultLabelBase
	}
	if targets == nil {
		targets = base.Child(1)
	}
	if sources == nil {
		sources = base.Child(2)
	}

	var err error
	if state.TargetLabels, err = fetchLabels(ctx, s, targets); err != nil {
		return err
	}
	if state.SourceLabels, err = fetchLabels(ctx, s, sources); err != nil {
		return err
	}
	return nil
}

// fetchLabels reads a label node whose children are numbered by port index
// and named by label.
func fetchLabels(ctx context.Context, s *Session, path ember.Path) (map[int]string, error) {
	reply, err := s.Exchange(ctx, EncodeDirectoryRequest(path), DirectoryReply(path))
	if err != nil {
		return nil, err
	}
	children, err := DecodeDirectoryResponse(path, reply)
	if err != nil {
		return nil, err
	}

	labels := make(map[int]string, len(children))
	for _, child := range children {
		if child.Identifier != "" {
			labels[int(child.Path.Last())] = child.Identifier
		}
	}
	return labels, nil
}

func decodeMatrixWithLabels(path ember.Path, reply []byte) (*MatrixState, ember.Path, error) {
	matrix, err := findMatrix(path, reply)
	if err != nil {
		return nil, nil, err
	}
	state, err := matrixState(matrix)
	if err != nil {
		return nil, nil, err
	}
	var base ember.Path
	if matrix.Matrix != nil && len(matrix.Matrix.Labels) > 0 {
		base = matrix.Matrix.Labels[0].BasePath
	}
	return state, base, nil
}

func withPhase(err error, phase Phase) error {
	var e *Error
	if errors.As(err, &e) {
		e.Phase = phase
	}
	return err
}

func (c *Client) opLogger(op string, addr DeviceAddress) *zap.Logger {
	return c.logger.With(
		zap.String("op", op),
		zap.String("op_id", uuid.NewString()),
		zap.String("device", addr.String()))
}

func (c *Client) fail(log *zap.Logger, err error) error {
	var e *Error
	if errors.As(err, &e) {
		log.Warn("Device operation failed",
			zap.String("kind", e.Kind.Error()),
			zap.String("phase", string(e.Phase)),
			zap.Error(err))
	}
	return err
}

func (c *Client) release(log *zap.Logger, s *Session) {
	if err := s.Close(); err != nil {
		log.Debug("Session close failed", zap.Error(err))
	}
}
