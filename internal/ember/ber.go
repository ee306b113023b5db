package ember

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// BER tag classes.
const (
	ClassUniversal   byte = 0x00
	ClassApplication byte = 0x40
	ClassContext     byte = 0x80
	ClassPrivate     byte = 0xC0
)

// Universal type numbers used by Glow.
const (
	TypeBoolean     = 1
	TypeInteger     = 2
	TypeOctetString = 4
	TypeNull        = 5
	TypeReal        = 9
	TypeUTF8String  = 12
	TypeRelativeOID = 13
	TypeSequence    = 16
	TypeSet         = 17
)

// maxDepth bounds nesting so garbage input cannot exhaust the stack.
const maxDepth = 64

// Tag identifies a BER value by class and number.
type Tag struct {
	Class  byte
	Number uint32
}

func Universal(n uint32) Tag   { return Tag{Class: ClassUniversal, Number: n} }
func Application(n uint32) Tag { return Tag{Class: ClassApplication, Number: n} }
func Context(n uint32) Tag     { return Tag{Class: ClassContext, Number: n} }

func (t Tag) String() string {
	switch t.Class {
	case ClassUniversal:
		return fmt.Sprintf("UNIVERSAL %d", t.Number)
	case ClassApplication:
		return fmt.Sprintf("APPLICATION %d", t.Number)
	case ClassContext:
		return fmt.Sprintf("[%d]", t.Number)
	default:
		return fmt.Sprintf("PRIVATE %d", t.Number)
	}
}

// TLV is one decoded (or to-be-encoded) BER value.
type TLV struct {
	Tag         Tag
	Constructed bool
	Value       []byte // contents of a primitive value
	Children    []*TLV // contents of a constructed value
}

// NewConstructed builds a constructed value from its children.
func NewConstructed(tag Tag, children ...*TLV) *TLV {
	return &TLV{Tag: tag, Constructed: true, Children: children}
}

// Explicit wraps inner in an explicit context tag, as Glow does for every
// SEQUENCE/SET field.
func Explicit(n uint32, inner *TLV) *TLV {
	return NewConstructed(Context(n), inner)
}

// Add appends children and returns t.
func (t *TLV) Add(children ...*TLV) *TLV {
	t.Children = append(t.Children, children...)
	return t
}

func Integer(v int64) *TLV {
	return &TLV{Tag: Universal(TypeInteger), Value: encodeInteger(v)}
}

func Boolean(v bool) *TLV {
	b := byte(0x00)
	if v {
		b = 0xFF
	}
	return &TLV{Tag: Universal(TypeBoolean), Value: []byte{b}}
}

func UTF8String(s string) *TLV {
	return &TLV{Tag: Universal(TypeUTF8String), Value: []byte(s)}
}

func RelativeOID(path []uint32) *TLV {
	return &TLV{Tag: Universal(TypeRelativeOID), Value: encodeOID(path)}
}

func Sequence(children ...*TLV) *TLV {
	return NewConstructed(Universal(TypeSequence), children...)
}

func Set(children ...*TLV) *TLV {
	return NewConstructed(Universal(TypeSet), children...)
}

// Bytes encodes t using definite lengths.
func (t *TLV) Bytes() []byte {
	return t.appendTo(nil)
}

func (t *TLV) appendTo(out []byte) []byte {
	content := t.Value
	if t.Constructed {
		content = nil
		for _, c := range t.Children {
			content = c.appendTo(content)
		}
	}
	out = appendTag(out, t.Tag, t.Constructed)
	out = appendLength(out, len(content))
	return append(out, content...)
}

// Field returns the inner value of the explicit context field n.
func (t *TLV) Field(n uint32) (*TLV, bool) {
	for _, c := range t.Children {
		if c.Tag.Class == ClassContext && c.Tag.Number == n && c.Constructed && len(c.Children) > 0 {
			return c.Children[0], true
		}
	}
	return nil, false
}

// Int decodes a universal INTEGER.
func (t *TLV) Int() (int64, error) {
	if t.Constructed || t.Tag != Universal(TypeInteger) {
		return 0, fmt.Errorf("%w: expected INTEGER, got %s", ErrMalformed, t.Tag)
	}
	return decodeInteger(t.Value)
}

// Int32 decodes a universal INTEGER that must fit Glow's Integer32.
func (t *TLV) Int32() (int32, error) {
	v, err := t.Int()
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: integer %d exceeds Integer32", ErrMalformed, v)
	}
	return int32(v), nil
}

// Text decodes a universal UTF8String.
func (t *TLV) Text() (string, error) {
	if t.Constructed || t.Tag != Universal(TypeUTF8String) {
		return "", fmt.Errorf("%w: expected UTF8String, got %s", ErrMalformed, t.Tag)
	}
	if !utf8.Valid(t.Value) {
		return "", fmt.Errorf("%w: invalid UTF-8 string", ErrMalformed)
	}
	return string(t.Value), nil
}

// OID decodes a universal RELATIVE-OID.
func (t *TLV) OID() ([]uint32, error) {
	if t.Constructed || t.Tag != Universal(TypeRelativeOID) {
		return nil, fmt.Errorf("%w: expected RELATIVE-OID, got %s", ErrMalformed, t.Tag)
	}
	return decodeOID(t.Value)
}

// Decode parses exactly one BER value from b.
func Decode(b []byte) (*TLV, error) {
	t, n, err := decodeTLV(b, 0)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-n)
	}
	return t, nil
}

func decodeTLV(b []byte, depth int) (*TLV, int, error) {
	if depth > maxDepth {
		return nil, 0, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}

	tag, constructed, off, err := readTag(b)
	if err != nil {
		return nil, 0, err
	}
	length, indefinite, n, err := readLength(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	t := &TLV{Tag: tag, Constructed: constructed}

	if indefinite {
		if !constructed {
			return nil, 0, fmt.Errorf("%w: indefinite length on primitive %s", ErrMalformed, tag)
		}
		for {
			if off+2 > len(b) {
				return nil, 0, ErrTruncated
			}
			if b[off] == 0x00 && b[off+1] == 0x00 {
				return t, off + 2, nil
			}
			child, cn, err := decodeTLV(b[off:], depth+1)
			if err != nil {
				return nil, 0, err
			}
			t.Children = append(t.Children, child)
			off += cn
		}
	}

	if length > len(b)-off {
		return nil, 0, ErrTruncated
	}
	content := b[off : off+length]

	if !constructed {
		t.Value = content
		return t, off + length, nil
	}

	for p := 0; p < len(content); {
		child, cn, err := decodeTLV(content[p:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		t.Children = append(t.Children, child)
		p += cn
	}
	return t, off + length, nil
}

func readTag(b []byte) (Tag, bool, int, error) {
	if len(b) == 0 {
		return Tag{}, false, 0, ErrTruncated
	}
	first := b[0]
	tag := Tag{Class: first & 0xC0, Number: uint32(first & 0x1F)}
	constructed := first&0x20 != 0
	n := 1

	if tag.Number == 0x1F {
		tag.Number = 0
		for {
			if n >= len(b) {
				return Tag{}, false, 0, ErrTruncated
			}
			c := b[n]
			n++
			if tag.Number > math.MaxUint32>>7 {
				return Tag{}, false, 0, fmt.Errorf("%w: tag number overflow", ErrMalformed)
			}
			tag.Number = tag.Number<<7 | uint32(c&0x7F)
			if c&0x80 == 0 {
				break
			}
		}
	}
	return tag, constructed, n, nil
}

func readLength(b []byte) (int, bool, int, error) {
	if len(b) == 0 {
		return 0, false, 0, ErrTruncated
	}
	first := b[0]
	switch {
	case first < 0x80:
		return int(first), false, 1, nil
	case first == 0x80:
		return 0, true, 1, nil
	}

	count := int(first & 0x7F)
	if count > 4 {
		return 0, false, 0, fmt.Errorf("%w: length field of %d bytes", ErrMalformed, count)
	}
	if len(b) < 1+count {
		return 0, false, 0, ErrTruncated
	}
	length := 0
	for _, c := range b[1 : 1+count] {
		length = length<<8 | int(c)
	}
	if length < 0 {
		return 0, false, 0, fmt.Errorf("%w: negative length", ErrMalformed)
	}
	return length, false, 1 + count, nil
}

func appendTag(out []byte, tag Tag, constructed bool) []byte {
	first := tag.Class
	if constructed {
		first |= 0x20
	}
	if tag.Number < 0x1F {
		return append(out, first|byte(tag.Number))
	}
	out = append(out, first|0x1F)
	return append(out, encodeBase128(tag.Number)...)
}

func appendLength(out []byte, length int) []byte {
	if length < 0x80 {
		return append(out, byte(length))
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(length))
	i := 0
	for i < 3 && buf[i] == 0 {
		i++
	}
	out = append(out, 0x80|byte(4-i))
	return append(out, buf[i:]...)
}

func encodeInteger(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	i := 0
	for i < 7 {
		if buf[i] == 0x00 && buf[i+1]&0x80 == 0 || buf[i] == 0xFF && buf[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return buf[i:]
}

func decodeInteger(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 8 {
		return 0, fmt.Errorf("%w: integer of %d bytes", ErrMalformed, len(b))
	}
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v, nil
}

func encodeBase128(v uint32) []byte {
	var tmp [5]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7F)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
		v >>= 7
	}
	return tmp[i:]
}

func encodeOID(path []uint32) []byte {
	out := make([]byte, 0, len(path)*2)
	for _, sub := range path {
		out = append(out, encodeBase128(sub)...)
	}
	return out
}

func decodeOID(b []byte) ([]uint32, error) {
	path := make([]uint32, 0, len(b))
	var v uint64
	for i, c := range b {
		v = v<<7 | uint64(c&0x7F)
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: OID component overflow", ErrMalformed)
		}
		if c&0x80 == 0 {
			path = append(path, uint32(v))
			v = 0
		} else if i == len(b)-1 {
			return nil, ErrTruncated
		}
	}
	return path, nil
}
