package ember

import (
	"fmt"
)

// Glow application tags (Ember+ Glow DTD 2.x).
const (
	tagRoot                  = 0
	tagParameter             = 1
	tagCommand               = 2
	tagNode                  = 3
	tagElementCollection     = 4
	tagQualifiedParameter    = 9
	tagQualifiedNode         = 10
	tagRootElementCollection = 11
	tagMatrix                = 13
	tagConnection            = 16
	tagQualifiedMatrix       = 17
	tagLabel                 = 18
)

// ElementKind is the kind of a Glow element.
type ElementKind int

const (
	KindNode ElementKind = iota + 1
	KindParameter
	KindMatrix
	KindCommand
)

func (k ElementKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindParameter:
		return "parameter"
	case KindMatrix:
		return "matrix"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// CommandType is the number of a Glow command.
type CommandType int32

const (
	CommandSubscribe    CommandType = 30
	CommandUnsubscribe  CommandType = 31
	CommandGetDirectory CommandType = 32
	CommandInvoke       CommandType = 33
)

type MatrixType int32

const (
	MatrixOneToN MatrixType = iota
	MatrixOneToOne
	MatrixNToN
)

type ConnectionOperation int32

const (
	OperationAbsolute ConnectionOperation = iota
	OperationConnect
	OperationDisconnect
)

type ConnectionDisposition int32

const (
	DispositionTally ConnectionDisposition = iota
	DispositionModified
	DispositionPending
	DispositionLocked
)

func (d ConnectionDisposition) String() string {
	switch d {
	case DispositionTally:
		return "tally"
	case DispositionModified:
		return "modified"
	case DispositionPending:
		return "pending"
	case DispositionLocked:
		return "locked"
	default:
		return fmt.Sprintf("disposition(%d)", int32(d))
	}
}

// Element is a node, parameter, matrix or command of the Glow tree.
// Path is always the full path: qualified elements carry it on the wire,
// nested elements get it from their parent during decoding.
type Element struct {
	Kind        ElementKind
	Qualified   bool
	Path        Path
	Identifier  string
	Description string

	// Value is a parameter value (string, int64 or bool).
	Value any

	// Command is set for KindCommand.
	Command CommandType

	// Matrix and Connections are set for KindMatrix.
	Matrix      *MatrixContents
	Connections []Connection

	Children []*Element
}

// MatrixContents holds the matrix-specific contents fields.
type MatrixContents struct {
	Type                 MatrixType
	TargetCount          int32
	SourceCount          int32
	MaxTotalConnects     int32
	MaxConnectsPerTarget int32
	Labels               []Label
}

// Label points to the node holding target and source labels.
type Label struct {
	BasePath    Path
	Description string
}

// Connection is one matrix crosspoint state or request.
type Connection struct {
	Target      int32
	Sources     []uint32
	Operation   ConnectionOperation
	Disposition ConnectionDisposition
}

// GetDirectory returns a GetDirectory command element.
func GetDirectory() *Element {
	return &Element{Kind: KindCommand, Command: CommandGetDirectory}
}

// Add appends child elements and returns e.
func (e *Element) Add(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// Root is a Glow root element collection.
type Root struct {
	Elements []*Element
}

// Encode returns the BER encoding of the root.
func (r *Root) Encode() []byte {
	coll := NewConstructed(Application(tagRootElementCollection))
	for _, e := range r.Elements {
		coll.Add(Explicit(0, e.tlv()))
	}
	return NewConstructed(Application(tagRoot), coll).Bytes()
}

// Walk calls fn for every element in the tree, parents before children.
func (r *Root) Walk(fn func(*Element)) {
	var walk func([]*Element)
	walk = func(elems []*Element) {
		for _, e := range elems {
			fn(e)
			walk(e.Children)
		}
	}
	walk(r.Elements)
}

// Find returns the first element of the given kind at path.
func (r *Root) Find(path Path, kind ElementKind) *Element {
	var found *Element
	r.Walk(func(e *Element) {
		if found == nil && e.Kind == kind && e.Path.Equal(path) {
			found = e
		}
	})
	return found
}

// DecodeRoot parses a Glow root from a reassembled EmBER payload.
// Element types outside this subset (functions, templates, streams) are
// skipped.
func DecodeRoot(b []byte) (*Root, error) {
	t, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if t.Tag != Application(tagRoot) || !t.Constructed || len(t.Children) != 1 {
		return nil, fmt.Errorf("%w: expected Root, got %s", ErrUnexpectedElement, t.Tag)
	}
	coll := t.Children[0]
	if coll.Tag != Application(tagRootElementCollection) || !coll.Constructed {
		return nil, fmt.Errorf("%w: root carries %s instead of an element collection", ErrUnexpectedElement, coll.Tag)
	}

	root := &Root{}
	for _, item := range coll.Children {
		inner, err := collectionItem(item)
		if err != nil {
			return nil, err
		}
		e, err := decodeElement(inner, Path{})
		if err != nil {
			return nil, err
		}
		if e != nil {
			root.Elements = append(root.Elements, e)
		}
	}
	return root, nil
}

func collectionItem(item *TLV) (*TLV, error) {
	if item.Tag != Context(0) || !item.Constructed || len(item.Children) != 1 {
		return nil, fmt.Errorf("%w: collection item %s", ErrUnexpectedElement, item.Tag)
	}
	return item.Children[0], nil
}

func (e *Element) appTag() uint32 {
	switch e.Kind {
	case KindNode:
		if e.Qualified {
			return tagQualifiedNode
		}
		return tagNode
	case KindParameter:
		if e.Qualified {
			return tagQualifiedParameter
		}
		return tagParameter
	case KindMatrix:
		if e.Qualified {
			return tagQualifiedMatrix
		}
		return tagMatrix
	default:
		return tagCommand
	}
}

func (e *Element) tlv() *TLV {
	if e.Kind == KindCommand {
		return NewConstructed(Application(tagCommand), Explicit(0, Integer(int64(e.Command))))
	}

	t := NewConstructed(Application(e.appTag()))
	if e.Qualified {
		t.Add(Explicit(0, RelativeOID(e.Path)))
	} else {
		t.Add(Explicit(0, Integer(int64(e.Path.Last()))))
	}
	if c := e.contentsTLV(); c != nil {
		t.Add(Explicit(1, c))
	}
	if len(e.Children) > 0 {
		coll := NewConstructed(Application(tagElementCollection))
		for _, child := range e.Children {
			coll.Add(Explicit(0, child.tlv()))
		}
		t.Add(Explicit(2, coll))
	}
	if e.Kind == KindMatrix && len(e.Connections) > 0 {
		seq := Sequence()
		for _, c := range e.Connections {
			seq.Add(Explicit(0, c.tlv()))
		}
		t.Add(Explicit(5, seq))
	}
	return t
}

func (e *Element) contentsTLV() *TLV {
	set := Set()
	if e.Identifier != "" || e.Kind == KindMatrix && e.Matrix != nil {
		set.Add(Explicit(0, UTF8String(e.Identifier)))
	}
	if e.Description != "" {
		set.Add(Explicit(1, UTF8String(e.Description)))
	}

	switch e.Kind {
	case KindParameter:
		if v := valueTLV(e.Value); v != nil {
			set.Add(Explicit(2, v))
		}
	case KindMatrix:
		if m := e.Matrix; m != nil {
			set.Add(Explicit(2, Integer(int64(m.Type))))
			set.Add(Explicit(4, Integer(int64(m.TargetCount))))
			set.Add(Explicit(5, Integer(int64(m.SourceCount))))
			if m.MaxTotalConnects > 0 {
				set.Add(Explicit(6, Integer(int64(m.MaxTotalConnects))))
			}
			if m.MaxConnectsPerTarget > 0 {
				set.Add(Explicit(7, Integer(int64(m.MaxConnectsPerTarget))))
			}
			if len(m.Labels) > 0 {
				labels := Sequence()
				for _, l := range m.Labels {
					label := NewConstructed(Application(tagLabel), Explicit(0, RelativeOID(l.BasePath)))
					label.Add(Explicit(1, UTF8String(l.Description)))
					labels.Add(Explicit(0, label))
				}
				set.Add(Explicit(10, labels))
			}
		}
	}

	if len(set.Children) == 0 {
		return nil
	}
	return set
}

func (c Connection) tlv() *TLV {
	t := NewConstructed(Application(tagConnection),
		Explicit(0, Integer(int64(c.Target))),
		Explicit(1, RelativeOID(c.Sources)),
	)
	if c.Operation != OperationAbsolute {
		t.Add(Explicit(2, Integer(int64(c.Operation))))
	}
	if c.Disposition != DispositionTally {
		t.Add(Explicit(3, Integer(int64(c.Disposition))))
	}
	return t
}

func valueTLV(v any) *TLV {
	switch val := v.(type) {
	case string:
		return UTF8String(val)
	case int64:
		return Integer(val)
	case int:
		return Integer(int64(val))
	case bool:
		return Boolean(val)
	default:
		return nil
	}
}

func decodeElement(t *TLV, parent Path) (*Element, error) {
	if t.Tag.Class != ClassApplication || !t.Constructed {
		return nil, fmt.Errorf("%w: %s is not a glow element", ErrUnexpectedElement, t.Tag)
	}

	e := &Element{}
	switch t.Tag.Number {
	case tagCommand:
		f, ok := t.Field(0)
		if !ok {
			return nil, fmt.Errorf("%w: command without number", ErrUnexpectedElement)
		}
		n, err := f.Int32()
		if err != nil {
			return nil, err
		}
		return &Element{Kind: KindCommand, Command: CommandType(n), Path: parent}, nil
	case tagNode:
		e.Kind = KindNode
	case tagQualifiedNode:
		e.Kind, e.Qualified = KindNode, true
	case tagParameter:
		e.Kind = KindParameter
	case tagQualifiedParameter:
		e.Kind, e.Qualified = KindParameter, true
	case tagMatrix:
		e.Kind = KindMatrix
	case tagQualifiedMatrix:
		e.Kind, e.Qualified = KindMatrix, true
	default:
		return nil, nil
	}

	f, ok := t.Field(0)
	if !ok {
		return nil, fmt.Errorf("%w: %s without number or path", ErrUnexpectedElement, e.Kind)
	}
	if e.Qualified {
		oid, err := f.OID()
		if err != nil {
			return nil, err
		}
		e.Path = Path(oid)
	} else {
		n, err := f.Int32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: negative element number %d", ErrMalformed, n)
		}
		e.Path = parent.Child(uint32(n))
	}

	if c, ok := t.Field(1); ok {
		if err := e.decodeContents(c); err != nil {
			return nil, err
		}
	}

	if c, ok := t.Field(2); ok {
		if c.Tag != Application(tagElementCollection) || !c.Constructed {
			return nil, fmt.Errorf("%w: children carry %s", ErrUnexpectedElement, c.Tag)
		}
		for _, item := range c.Children {
			inner, err := collectionItem(item)
			if err != nil {
				return nil, err
			}
			child, err := decodeElement(inner, e.Path)
			if err != nil {
				return nil, err
			}
			if child != nil {
				e.Children = append(e.Children, child)
			}
		}
	}

	if e.Kind == KindMatrix {
		if c, ok := t.Field(5); ok {
			for _, item := range c.Children {
				inner, err := collectionItem(item)
				if err != nil {
					return nil, err
				}
				conn, err := decodeConnection(inner)
				if err != nil {
					return nil, err
				}
				e.Connections = append(e.Connections, conn)
			}
		}
	}
	return e, nil
}

func (e *Element) decodeContents(set *TLV) error {
	if !set.Constructed {
		return fmt.Errorf("%w: primitive contents", ErrMalformed)
	}
	if e.Kind == KindMatrix {
		e.Matrix = &MatrixContents{}
	}

	for _, field := range set.Children {
		if field.Tag.Class != ClassContext || !field.Constructed || len(field.Children) == 0 {
			continue
		}
		v := field.Children[0]
		var err error
		switch n := field.Tag.Number; {
		case n == 0:
			e.Identifier, err = v.Text()
		case n == 1:
			e.Description, err = v.Text()
		case e.Kind == KindParameter && n == 2:
			e.Value = decodeValue(v)
		case e.Kind == KindMatrix:
			err = e.Matrix.decodeField(n, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MatrixContents) decodeField(n uint32, v *TLV) error {
	var err error
	var i int32
	switch n {
	case 2:
		i, err = v.Int32()
		m.Type = MatrixType(i)
	case 4:
		m.TargetCount, err = v.Int32()
	case 5:
		m.SourceCount, err = v.Int32()
	case 6:
		m.MaxTotalConnects, err = v.Int32()
	case 7:
		m.MaxConnectsPerTarget, err = v.Int32()
	case 10:
		for _, item := range v.Children {
			inner, ierr := collectionItem(item)
			if ierr != nil {
				return ierr
			}
			label, lerr := decodeLabel(inner)
			if lerr != nil {
				return lerr
			}
			m.Labels = append(m.Labels, label)
		}
	}
	return err
}

func decodeLabel(t *TLV) (Label, error) {
	if t.Tag != Application(tagLabel) {
		return Label{}, fmt.Errorf("%w: expected Label, got %s", ErrUnexpectedElement, t.Tag)
	}
	var l Label
	f, ok := t.Field(0)
	if !ok {
		return Label{}, fmt.Errorf("%w: label without base path", ErrUnexpectedElement)
	}
	oid, err := f.OID()
	if err != nil {
		return Label{}, err
	}
	l.BasePath = Path(oid)
	if f, ok := t.Field(1); ok {
		if l.Description, err = f.Text(); err != nil {
			return Label{}, err
		}
	}
	return l, nil
}

func decodeConnection(t *TLV) (Connection, error) {
	if t.Tag != Application(tagConnection) {
		return Connection{}, fmt.Errorf("%w: expected Connection, got %s", ErrUnexpectedElement, t.Tag)
	}
	var c Connection
	f, ok := t.Field(0)
	if !ok {
		return Connection{}, fmt.Errorf("%w: connection without target", ErrUnexpectedElement)
	}
	var err error
	if c.Target, err = f.Int32(); err != nil {
		return Connection{}, err
	}
	if f, ok := t.Field(1); ok {
		if c.Sources, err = f.OID(); err != nil {
			return Connection{}, err
		}
	}
	if f, ok := t.Field(2); ok {
		n, err := f.Int32()
		if err != nil {
			return Connection{}, err
		}
		c.Operation = ConnectionOperation(n)
	}
	if f, ok := t.Field(3); ok {
		n, err := f.Int32()
		if err != nil {
			return Connection{}, err
		}
		c.Disposition = ConnectionDisposition(n)
	}
	return c, nil
}

func decodeValue(v *TLV) any {
	if v.Constructed || v.Tag.Class != ClassUniversal {
		return nil
	}
	switch v.Tag.Number {
	case TypeUTF8String:
		s, err := v.Text()
		if err != nil {
			return nil
		}
		return s
	case TypeInteger:
		i, err := v.Int()
		if err != nil {
			return nil
		}
		return i
	case TypeBoolean:
		return len(v.Value) == 1 && v.Value[0] != 0
	default:
		return nil
	}
}
