package ember

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixRoundTrip(t *testing.T) {
	in := &Root{Elements: []*Element{{
		Kind:       KindMatrix,
		Qualified:  true,
		Path:       Path{1, 10, 2},
		Identifier: "Matrix",
		Matrix: &MatrixContents{
			Type:        MatrixOneToN,
			TargetCount: 4,
			SourceCount: 8,
			Labels:      []Label{{BasePath: Path{1, 10, 1}, Description: "Primary"}},
		},
		Connections: []Connection{
			{Target: 0, Sources: []uint32{3}},
			{Target: 1, Sources: []uint32{1}, Disposition: DispositionLocked},
			{Target: 2, Sources: nil, Operation: OperationDisconnect},
		},
	}}}

	out, err := DecodeRoot(in.Encode())
	require.NoError(t, err)
	require.Len(t, out.Elements, 1)

	m := out.Find(Path{1, 10, 2}, KindMatrix)
	require.NotNil(t, m)
	assert.True(t, m.Qualified)
	assert.Equal(t, "Matrix", m.Identifier)
	require.NotNil(t, m.Matrix)
	assert.Equal(t, int32(4), m.Matrix.TargetCount)
	assert.Equal(t, int32(8), m.Matrix.SourceCount)
	require.Len(t, m.Matrix.Labels, 1)
	assert.Equal(t, "1.10.1", m.Matrix.Labels[0].BasePath.String())

	require.Len(t, m.Connections, 3)
	assert.Equal(t, []uint32{3}, m.Connections[0].Sources)
	assert.Equal(t, DispositionLocked, m.Connections[1].Disposition)
	assert.Equal(t, OperationDisconnect, m.Connections[2].Operation)
	assert.Empty(t, m.Connections[2].Sources)
}

func TestNestedPathsAreResolved(t *testing.T) {
	in := &Root{Elements: []*Element{
		(&Element{Kind: KindNode, Path: Path{1}, Identifier: "pro8"}).Add(
			(&Element{Kind: KindNode, Path: Path{1, 10}, Identifier: "Video-Matrix"}).Add(
				&Element{Kind: KindMatrix, Path: Path{1, 10, 2}, Identifier: "Matrix"},
				&Element{Kind: KindParameter, Path: Path{1, 10, 3}, Identifier: "gain", Value: int64(-6)},
			),
		),
	}}

	out, err := DecodeRoot(in.Encode())
	require.NoError(t, err)

	var paths []string
	out.Walk(func(e *Element) { paths = append(paths, e.Path.String()+"="+e.Identifier) })
	assert.Equal(t, []string{"1=pro8", "1.10=Video-Matrix", "1.10.2=Matrix", "1.10.3=gain"}, paths)

	p := out.Find(Path{1, 10, 3}, KindParameter)
	require.NotNil(t, p)
	assert.Equal(t, int64(-6), p.Value)
}

func TestCommandRoundTrip(t *testing.T) {
	in := &Root{Elements: []*Element{
		(&Element{Kind: KindNode, Qualified: true, Path: Path{1, 10}}).Add(GetDirectory()),
	}}

	out, err := DecodeRoot(in.Encode())
	require.NoError(t, err)
	require.Len(t, out.Elements, 1)
	require.Len(t, out.Elements[0].Children, 1)

	cmd := out.Elements[0].Children[0]
	assert.Equal(t, KindCommand, cmd.Kind)
	assert.Equal(t, CommandGetDirectory, cmd.Command)
	assert.Equal(t, "1.10", cmd.Path.String())
}

func TestDecodeRootRejectsForeignData(t *testing.T) {
	_, err := DecodeRoot(Sequence(Integer(1)).Bytes())
	assert.ErrorIs(t, err, ErrUnexpectedElement)

	// Root carrying a StreamCollection instead of elements.
	streams := NewConstructed(Application(tagRoot), NewConstructed(Application(5)))
	_, err = DecodeRoot(streams.Bytes())
	assert.ErrorIs(t, err, ErrUnexpectedElement)

	_, err = DecodeRoot([]byte{0x60, 0x10, 0x6B})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestUnknownElementsAreSkipped(t *testing.T) {
	function := NewConstructed(Application(19), Explicit(0, Integer(1)))
	root := NewConstructed(Application(tagRoot),
		NewConstructed(Application(tagRootElementCollection),
			Explicit(0, function),
			Explicit(0, (&Element{Kind: KindNode, Path: Path{2}, Identifier: "n"}).tlv()),
		),
	)

	out, err := DecodeRoot(root.Bytes())
	require.NoError(t, err)
	require.Len(t, out.Elements, 1)
	assert.Equal(t, "n", out.Elements[0].Identifier)
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("1.10.2")
	require.NoError(t, err)
	assert.Equal(t, Path{1, 10, 2}, p)
	assert.True(t, p.IsChildOf(Path{1, 10}))
	assert.False(t, p.IsChildOf(Path{1}))
	assert.Equal(t, uint32(2), p.Last())

	root, err := ParsePath("")
	require.NoError(t, err)
	assert.Empty(t, root)

	_, err = ParsePath("1.x")
	assert.Error(t, err)
}
