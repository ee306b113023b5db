package vpro

import (
	"fmt"
	"math"
	"slices"

	"github.com/KevinKickass/vprocontrol/internal/ember"
)

// EncodeDiscoveryRequest asks for the contents and connections of the
// matrix at path.
func EncodeDiscoveryRequest(path ember.Path) []byte {
	matrix := &ember.Element{Kind: ember.KindMatrix, Qualified: true, Path: path}
	matrix.Add(ember.GetDirectory())
	return (&ember.Root{Elements: []*ember.Element{matrix}}).Encode()
}

// EncodeDirectoryRequest asks for the children of the node at path, or of
// the tree root when path is empty.
func EncodeDirectoryRequest(path ember.Path) []byte {
	if len(path) == 0 {
		return (&ember.Root{Elements: []*ember.Element{ember.GetDirectory()}}).Encode()
	}
	node := &ember.Element{Kind: ember.KindNode, Qualified: true, Path: path}
	node.Add(ember.GetDirectory())
	return (&ember.Root{Elements: []*ember.Element{node}}).Encode()
}

// EncodeConnectRequest asks the matrix at path to route source to target.
// Glow carries both indices as Integer32.
func EncodeConnectRequest(path ember.Path, source, target int) ([]byte, error) {
	if err := checkIndexWidth("source", source); err != nil {
		return nil, err
	}
	if err := checkIndexWidth("target", target); err != nil {
		return nil, err
	}

	matrix := &ember.Element{
		Kind:      ember.KindMatrix,
		Qualified: true,
		Path:      path,
		Connections: []ember.Connection{{
			Target:    int32(target),
			Sources:   []uint32{uint32(source)},
			Operation: ember.OperationConnect,
		}},
	}
	return (&ember.Root{Elements: []*ember.Element{matrix}}).Encode(), nil
}

func checkIndexWidth(name string, v int) error {
	if v < 0 || v > math.MaxInt32 {
		return newError(ErrEncoding, PhaseEncode, fmt.Sprintf("%s %d does not fit Integer32", name, v), nil)
	}
	return nil
}

// DecodeMatrixResponse extracts the matrix at path from a device reply.
func DecodeMatrixResponse(path ember.Path, payload []byte) (*MatrixState, error) {
	matrix, err := findMatrix(path, payload)
	if err != nil {
		return nil, err
	}
	return matrixState(matrix)
}

// DecodeConnectResponse interprets a device reply to a connect request.
// Rejections reported by the device decode to a failed result; only
// undecodable replies are errors.
func DecodeConnectResponse(path ember.Path, source, target int, payload []byte) (*ConnectionResult, error) {
	matrix, err := findMatrix(path, payload)
	if err != nil {
		return nil, err
	}
	state, err := matrixState(matrix)
	if err != nil {
		return nil, err
	}

	if state.TargetCount > 0 && target >= state.TargetCount {
		return failed(source, target, fmt.Sprintf("invalid target %d: device has %d targets", target, state.TargetCount), state), nil
	}
	if state.SourceCount > 0 && source >= state.SourceCount {
		return failed(source, target, fmt.Sprintf("invalid source %d: device has %d sources", source, state.SourceCount), state), nil
	}

	var conn *ember.Connection
	for i := range matrix.Connections {
		if int(matrix.Connections[i].Target) == target {
			conn = &matrix.Connections[i]
			break
		}
	}
	if conn == nil {
		return failed(source, target, fmt.Sprintf("device did not acknowledge target %d", target), state), nil
	}

	if conn.Disposition == ember.DispositionLocked {
		return failed(source, target, fmt.Sprintf("target %d is locked", target), state), nil
	}
	if !slices.Contains(conn.Sources, uint32(source)) {
		return failed(source, target, fmt.Sprintf("device kept target %d on sources %v", target, conn.Sources), state), nil
	}

	return acknowledged(source, target, conn.Disposition == ember.DispositionPending, state), nil
}

// DecodeDirectoryResponse returns the direct children of parent found in a
// GetDirectory reply, whether nested or sent as qualified elements.
func DecodeDirectoryResponse(parent ember.Path, payload []byte) ([]*ember.Element, error) {
	root, err := decodeRoot(payload)
	if err != nil {
		return nil, err
	}

	var children []*ember.Element
	root.Walk(func(e *ember.Element) {
		if e.Kind != ember.KindCommand && e.Path.IsChildOf(parent) {
			children = append(children, e)
		}
	})
	return children, nil
}

// MatrixReply accepts messages carrying the matrix at path. Undecodable
// messages are accepted so the decoder reports them.
func MatrixReply(path ember.Path) ReplyMatcher {
	return func(payload []byte) bool {
		root, err := ember.DecodeRoot(payload)
		if err != nil {
			return true
		}
		return root.Find(path, ember.KindMatrix) != nil
	}
}

// DirectoryReply accepts messages describing the node at path or any of its
// direct children.
func DirectoryReply(path ember.Path) ReplyMatcher {
	return func(payload []byte) bool {
		root, err := ember.DecodeRoot(payload)
		if err != nil {
			return true
		}
		found := false
		root.Walk(func(e *ember.Element) {
			if e.Kind == ember.KindCommand {
				return
			}
			if e.Path.IsChildOf(path) || (len(path) > 0 && e.Path.Equal(path)) {
				found = true
			}
		})
		return found
	}
}

func decodeRoot(payload []byte) (*ember.Root, error) {
	root, err := ember.DecodeRoot(payload)
	if err != nil {
		return nil, newError(ErrProtocol, PhaseDecode, "malformed glow payload", err)
	}
	return root, nil
}

func findMatrix(path ember.Path, payload []byte) (*ember.Element, error) {
	root, err := decodeRoot(payload)
	if err != nil {
		return nil, err
	}
	matrix := root.Find(path, ember.KindMatrix)
	if matrix == nil {
		return nil, newError(ErrProtocol, PhaseDecode, fmt.Sprintf("reply carries no matrix at %s", path), nil)
	}
	return matrix, nil
}

func matrixState(matrix *ember.Element) (*MatrixState, error) {
	state := &MatrixState{
		Identifier:  matrix.Identifier,
		Path:        matrix.Path.String(),
		Connections: make([]Connection, 0, len(matrix.Connections)),
	}
	if m := matrix.Matrix; m != nil {
		if m.TargetCount < 0 || m.SourceCount < 0 {
			return nil, newError(ErrProtocol, PhaseDecode, "negative port count", nil)
		}
		state.TargetCount = int(m.TargetCount)
		state.SourceCount = int(m.SourceCount)
	}

	seen := make(map[int]bool, len(matrix.Connections))
	for _, c := range matrix.Connections {
		target := int(c.Target)
		if target < 0 {
			return nil, newError(ErrProtocol, PhaseDecode, fmt.Sprintf("negative target %d", target), nil)
		}
		if seen[target] {
			return nil, newError(ErrProtocol, PhaseDecode, fmt.Sprintf("target %d reported twice", target), nil)
		}
		seen[target] = true

		if state.TargetCount > 0 && target >= state.TargetCount {
			return nil, newError(ErrProtocol, PhaseDecode,
				fmt.Sprintf("target %d outside reported count %d", target, state.TargetCount), nil)
		}

		sources := make([]int, 0, len(c.Sources))
		for _, src := range c.Sources {
			if src > math.MaxInt32 {
				return nil, newError(ErrProtocol, PhaseDecode, fmt.Sprintf("source %d exceeds Integer32", src), nil)
			}
			if state.SourceCount > 0 && int(src) >= state.SourceCount {
				return nil, newError(ErrProtocol, PhaseDecode,
					fmt.Sprintf("source %d outside reported count %d", src, state.SourceCount), nil)
			}
			sources = append(sources, int(src))
		}
		state.Connections = append(state.Connections, Connection{Target: target, Sources: sources})
	}

	state.sortConnections()
	return state, nil
}
