package vpro

import (
	"math"
	"testing"

	"github.com/KevinKickass/vprocontrol/internal/ember"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMatrixPath = ember.Path{1, 10, 2}

func matrixReply(targets, sources int32, conns ...ember.Connection) []byte {
	m := &ember.Element{
		Kind:        ember.KindMatrix,
		Qualified:   true,
		Path:        testMatrixPath,
		Identifier:  "Matrix",
		Matrix:      &ember.MatrixContents{TargetCount: targets, SourceCount: sources},
		Connections: conns,
	}
	return (&ember.Root{Elements: []*ember.Element{m}}).Encode()
}

func conn(target int32, sources ...uint32) ember.Connection {
	return ember.Connection{Target: target, Sources: sources}
}

func TestDecodeMatrixResponse(t *testing.T) {
	reply := matrixReply(4, 4, conn(2, 0), conn(0, 3), conn(1, 1))

	state, err := DecodeMatrixResponse(testMatrixPath, reply)
	require.NoError(t, err)

	assert.Equal(t, map[int]int{0: 3, 1: 1, 2: 0}, state.Routes())
	assert.Equal(t, "1.10.2", state.Path)
	assert.Equal(t, "Matrix", state.Identifier)
	assert.Equal(t, 4, state.TargetCount)
	assert.Equal(t, 4, state.SourceCount)

	// Sorted by target.
	require.Len(t, state.Connections, 3)
	assert.Equal(t, 0, state.Connections[0].Target)
	assert.Equal(t, 2, state.Connections[2].Target)

	_, ok := state.Sources(3)
	assert.False(t, ok)
	assert.Equal(t, "Target 4", state.TargetLabel(4))
	assert.Equal(t, "Source 1", state.SourceLabel(1))
}

func TestDecodeMatrixResponseNested(t *testing.T) {
	matrix := &ember.Element{
		Kind:        ember.KindMatrix,
		Path:        testMatrixPath,
		Matrix:      &ember.MatrixContents{TargetCount: 2, SourceCount: 2},
		Connections: []ember.Connection{conn(1, 0)},
	}
	video := (&ember.Element{Kind: ember.KindNode, Path: ember.Path{1, 10}, Identifier: "Video-Matrix"}).Add(matrix)
	device := (&ember.Element{Kind: ember.KindNode, Path: ember.Path{1}, Identifier: "pro8"}).Add(video)
	reply := (&ember.Root{Elements: []*ember.Element{device}}).Encode()

	state, err := DecodeMatrixResponse(testMatrixPath, reply)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 0}, state.Routes())
}

func TestDecodeMatrixResponseEmpty(t *testing.T) {
	state, err := DecodeMatrixResponse(testMatrixPath, matrixReply(8, 8))
	require.NoError(t, err)
	assert.Empty(t, state.Connections)
	assert.Empty(t, state.Routes())
}

func TestDecodeMatrixResponseRejectsInvalidReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
	}{
		{"garbage", []byte{0x01, 0x02, 0x03}},
		{"truncated", matrixReply(4, 4, conn(0, 1))[:10]},
		{"no matrix", (&ember.Root{}).Encode()},
		{"duplicate target", matrixReply(4, 4, conn(1, 0), conn(1, 2))},
		{"target out of range", matrixReply(2, 4, conn(2, 0))},
		{"source out of range", matrixReply(4, 2, conn(0, 3))},
		{"negative target", matrixReply(4, 4, conn(-1, 0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMatrixResponse(testMatrixPath, tt.reply)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
			assert.Equal(t, ErrProtocol, KindOf(err))
		})
	}
}

func TestEncodeConnectRequest(t *testing.T) {
	payload, err := EncodeConnectRequest(testMatrixPath, 2, 1)
	require.NoError(t, err)

	root, err := ember.DecodeRoot(payload)
	require.NoError(t, err)
	matrix := root.Find(testMatrixPath, ember.KindMatrix)
	require.NotNil(t, matrix)
	assert.True(t, matrix.Qualified)

	require.Len(t, matrix.Connections, 1)
	c := matrix.Connections[0]
	assert.Equal(t, int32(1), c.Target)
	assert.Equal(t, []uint32{2}, c.Sources)
	assert.Equal(t, ember.OperationConnect, c.Operation)
}

func TestEncodeConnectRequestIndexWidth(t *testing.T) {
	_, err := EncodeConnectRequest(testMatrixPath, math.MaxInt32+1, 0)
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeConnectRequest(testMatrixPath, 0, math.MaxInt32+1)
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeConnectRequest(testMatrixPath, math.MaxInt32, 0)
	assert.NoError(t, err)
}

func TestEncodeDiscoveryRequest(t *testing.T) {
	root, err := ember.DecodeRoot(EncodeDiscoveryRequest(testMatrixPath))
	require.NoError(t, err)

	matrix := root.Find(testMatrixPath, ember.KindMatrix)
	require.NotNil(t, matrix)
	require.Len(t, matrix.Children, 1)
	assert.Equal(t, ember.KindCommand, matrix.Children[0].Kind)
	assert.Equal(t, ember.CommandGetDirectory, matrix.Children[0].Command)
}

func TestEncodeDirectoryRequestRoot(t *testing.T) {
	root, err := ember.DecodeRoot(EncodeDirectoryRequest(nil))
	require.NoError(t, err)
	require.Len(t, root.Elements, 1)
	assert.Equal(t, ember.CommandGetDirectory, root.Elements[0].Command)
}

func TestDecodeConnectResponse(t *testing.T) {
	modified := func(target int32, sources ...uint32) ember.Connection {
		c := conn(target, sources...)
		c.Disposition = ember.DispositionModified
		return c
	}

	tests := []struct {
		name    string
		reply   []byte
		source  int
		target  int
		status  ConnectionStatus
		pending bool
	}{
		{"acknowledged", matrixReply(4, 4, modified(1, 2)), 2, 1, StatusAcknowledged, false},
		{"tally echo", matrixReply(4, 4, conn(1, 2)), 2, 1, StatusAcknowledged, false},
		{"pending", matrixReply(4, 4, ember.Connection{Target: 1, Sources: []uint32{2}, Disposition: ember.DispositionPending}), 2, 1, StatusAcknowledged, true},
		{"locked", matrixReply(4, 4, ember.Connection{Target: 1, Sources: []uint32{0}, Disposition: ember.DispositionLocked}), 2, 1, StatusFailed, false},
		{"other source kept", matrixReply(4, 4, modified(1, 0)), 2, 1, StatusFailed, false},
		{"target not echoed", matrixReply(4, 4, modified(0, 2)), 2, 1, StatusFailed, false},
		{"target out of range", matrixReply(4, 4), 2, 9, StatusFailed, false},
		{"source out of range", matrixReply(4, 4), 9, 1, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := DecodeConnectResponse(testMatrixPath, tt.source, tt.target, tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.pending, result.Pending)
			assert.Equal(t, tt.source, result.Source)
			assert.Equal(t, tt.target, result.Target)
			if tt.status == StatusFailed {
				assert.NotEmpty(t, result.Reason)
			}
			assert.NotNil(t, result.State)
		})
	}
}

func TestDecodeConnectResponseUndecodable(t *testing.T) {
	_, err := DecodeConnectResponse(testMatrixPath, 0, 0, []byte{0xFF})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeDirectoryResponse(t *testing.T) {
	parent := ember.Path{1, 10}
	reply := (&ember.Root{Elements: []*ember.Element{
		{Kind: ember.KindNode, Qualified: true, Path: ember.Path{1, 10, 1}, Identifier: "Labels"},
		{Kind: ember.KindMatrix, Qualified: true, Path: ember.Path{1, 10, 2}, Identifier: "Matrix"},
		{Kind: ember.KindNode, Qualified: true, Path: ember.Path{1, 10, 1, 4}, Identifier: "grandchild"},
	}}).Encode()

	children, err := DecodeDirectoryResponse(parent, reply)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Labels", children[0].Identifier)
	assert.Equal(t, "Matrix", children[1].Identifier)
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{float64(7), 7, true},
		{"12", 12, true},
		{" 4 ", 4, true},
		{nil, 0, false},
		{-1, 0, false},
		{float64(-2), 0, false},
		{1.5, 0, false},
		{"abc", 0, false},
		{"-3", 0, false},
		{true, 0, false},
		{float64(1 << 54), 0, false},
	}

	for _, tt := range tests {
		got, err := ParseIndex("source", tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrValidation, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseDeviceAddress(t *testing.T) {
	addr, err := ParseDeviceAddress("192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, DeviceAddress{Host: "192.168.1.50", Port: DefaultPort}, addr)

	addr, err = ParseDeviceAddress("vpro-1:9100")
	require.NoError(t, err)
	assert.Equal(t, "vpro-1:9100", addr.String())

	addr, err = ParseDeviceAddress("[::1]:9000")
	require.NoError(t, err)
	assert.Equal(t, "::1", addr.Host)

	for _, bad := range []string{"", "host:0", "host:99999", ":9000", "host:abc"} {
		_, err := ParseDeviceAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestConnectionRequestValidate(t *testing.T) {
	dev := NewDeviceAddress("10.0.0.1", 0)

	assert.NoError(t, ConnectionRequest{Device: dev, Source: 0, Target: 0}.Validate())
	assert.ErrorIs(t, ConnectionRequest{Device: dev, Source: -1}.Validate(), ErrValidation)
	assert.ErrorIs(t, ConnectionRequest{Device: dev, Target: -1}.Validate(), ErrValidation)
	assert.ErrorIs(t, ConnectionRequest{Source: 1, Target: 1}.Validate(), ErrValidation)
}

func TestReplyMatchers(t *testing.T) {
	update := (&ember.Root{Elements: []*ember.Element{{
		Kind:      ember.KindParameter,
		Qualified: true,
		Path:      ember.Path{1, 3, 7},
		Value:     int64(41),
	}}}).Encode()
	garbage := []byte{0x60, 0x05, 0x01}

	matrix := MatrixReply(testMatrixPath)
	assert.True(t, matrix(matrixReply(4, 4)))
	assert.False(t, matrix(update))
	assert.True(t, matrix(garbage), "undecodable messages are left to the decoder")

	root := DirectoryReply(ember.Path{})
	pro8 := (&ember.Root{Elements: []*ember.Element{{Kind: ember.KindNode, Qualified: true, Path: ember.Path{1}, Identifier: "pro8"}}}).Encode()
	assert.True(t, root(pro8))
	assert.False(t, root(update))

	labels := DirectoryReply(ember.Path{1, 10, 1, 1})
	empty := (&ember.Root{Elements: []*ember.Element{{Kind: ember.KindNode, Qualified: true, Path: ember.Path{1, 10, 1, 1}}}}).Encode()
	assert.True(t, labels(empty))
	assert.False(t, labels(update))
	assert.False(t, labels(matrixReply(4, 4)))
}
