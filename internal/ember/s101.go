package ember

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// S101 framing bytes.
const (
	BOF          byte = 0xFE // begin of frame
	EOF          byte = 0xFF // end of frame
	CE           byte = 0xFD // escape marker
	escapeXOR    byte = 0x20
	escapeFloor  byte = 0xF8 // bytes at or above this are escaped
	crcGoodValue      = 0xF0B8
)

// S101 header values.
const (
	SlotDefault byte = 0x00
	MessageType byte = 0x0E
	Version     byte = 0x01

	CommandEmber             byte = 0x00
	CommandKeepAliveRequest  byte = 0x01
	CommandKeepAliveResponse byte = 0x02

	FlagFirst  byte = 0x80
	FlagLast   byte = 0x40
	FlagEmpty  byte = 0x20
	FlagSingle      = FlagFirst | FlagLast

	DTDGlow byte = 0x01
)

const (
	// MaxPacketPayload is the largest Glow payload carried by one frame;
	// longer messages are split into multi-packet messages.
	MaxPacketPayload = 1024

	// maxFrameSize bounds a single escaped frame read from the wire.
	maxFrameSize = 64 * 1024

	// maxMessageSize bounds a reassembled multi-packet message.
	maxMessageSize = 4 * 1024 * 1024
)

// glowAppBytes announces Glow DTD version 2.40.
var glowAppBytes = []byte{0x28, 0x02}

// Frame is one unescaped S101 frame.
type Frame struct {
	Slot     byte
	Command  byte
	Flags    byte
	DTD      byte
	AppBytes []byte
	Payload  []byte
}

// Encode escapes and checksums the frame, including BOF and EOF.
func (f *Frame) Encode() []byte {
	body := []byte{f.Slot, MessageType, f.Command, Version}
	if f.Command == CommandEmber {
		body = append(body, f.Flags, f.DTD, byte(len(f.AppBytes)))
		body = append(body, f.AppBytes...)
		body = append(body, f.Payload...)
	}
	crc := ^crcCCITT(0xFFFF, body)
	body = append(body, byte(crc), byte(crc>>8))

	out := make([]byte, 0, len(body)+8)
	out = append(out, BOF)
	for _, b := range body {
		if b >= escapeFloor {
			out = append(out, CE, b^escapeXOR)
			continue
		}
		out = append(out, b)
	}
	return append(out, EOF)
}

// DecodeFrame parses the escaped bytes found between BOF and EOF.
func DecodeFrame(escaped []byte) (*Frame, error) {
	body := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		b := escaped[i]
		if b == CE {
			i++
			if i >= len(escaped) {
				return nil, fmt.Errorf("%w: dangling escape", ErrFrame)
			}
			b = escaped[i] ^ escapeXOR
		}
		body = append(body, b)
	}

	if len(body) < 6 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrFrame, len(body))
	}
	if crcCCITT(0xFFFF, body) != crcGoodValue {
		return nil, ErrCRC
	}
	body = body[:len(body)-2]

	if body[1] != MessageType {
		return nil, fmt.Errorf("%w: message type 0x%02X", ErrFrame, body[1])
	}
	if body[3] != Version {
		return nil, fmt.Errorf("%w: version 0x%02X", ErrFrame, body[3])
	}

	f := &Frame{Slot: body[0], Command: body[2]}
	if f.Command != CommandEmber {
		return f, nil
	}

	if len(body) < 7 {
		return nil, fmt.Errorf("%w: EmBER header truncated", ErrFrame)
	}
	f.Flags = body[4]
	f.DTD = body[5]
	appLen := int(body[6])
	if len(body) < 7+appLen {
		return nil, fmt.Errorf("%w: app bytes truncated", ErrFrame)
	}
	f.AppBytes = body[7 : 7+appLen]
	f.Payload = body[7+appLen:]
	return f, nil
}

// EncodeMessage frames a Glow payload, splitting it into a multi-packet
// message when it exceeds MaxPacketPayload.
func EncodeMessage(payload []byte) []byte {
	if len(payload) <= MaxPacketPayload {
		return emberFrame(FlagSingle, payload).Encode()
	}

	var out []byte
	for off := 0; off < len(payload); off += MaxPacketPayload {
		end := min(off+MaxPacketPayload, len(payload))
		var flags byte
		if off == 0 {
			flags |= FlagFirst
		}
		if end == len(payload) {
			flags |= FlagLast
		}
		out = append(out, emberFrame(flags, payload[off:end]).Encode()...)
	}
	return out
}

// EncodeKeepAlive builds a keep-alive request or response frame.
func EncodeKeepAlive(command byte) []byte {
	return (&Frame{Slot: SlotDefault, Command: command}).Encode()
}

func emberFrame(flags byte, payload []byte) *Frame {
	return &Frame{
		Slot:     SlotDefault,
		Command:  CommandEmber,
		Flags:    flags,
		DTD:      DTDGlow,
		AppBytes: glowAppBytes,
		Payload:  payload,
	}
}

// Reader reads S101 frames from a byte stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until a complete frame is read. Bytes outside BOF/EOF are
// discarded. Errors from the underlying reader are returned unwrapped so
// callers can inspect timeouts.
func (r *Reader) ReadFrame() (*Frame, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == BOF {
			break
		}
	}

	buf := make([]byte, 0, 64)
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch b {
		case EOF:
			return DecodeFrame(buf)
		case BOF:
			buf = buf[:0]
			continue
		}
		buf = append(buf, b)
		if len(buf) > maxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrFrame, maxFrameSize)
		}
	}
}

// Assembler joins the packets of a multi-packet EmBER message.
type Assembler struct {
	buf     []byte
	started bool
}

// Add feeds one EmBER frame. It returns the full payload once the last
// packet of a message has been added.
func (a *Assembler) Add(f *Frame) ([]byte, bool, error) {
	if f.Command != CommandEmber {
		return nil, false, fmt.Errorf("%w: command 0x%02X is not EmBER", ErrFrame, f.Command)
	}
	if f.DTD != DTDGlow {
		return nil, false, fmt.Errorf("%w: unsupported DTD 0x%02X", ErrFrame, f.DTD)
	}

	if f.Flags&FlagFirst != 0 {
		a.buf = a.buf[:0]
		a.started = true
	}
	if !a.started {
		return nil, false, fmt.Errorf("%w: continuation packet without first packet", ErrFrame)
	}
	if f.Flags&FlagEmpty == 0 {
		a.buf = append(a.buf, f.Payload...)
		if len(a.buf) > maxMessageSize {
			return nil, false, fmt.Errorf("%w: message exceeds %d bytes", ErrFrame, maxMessageSize)
		}
	}
	if f.Flags&FlagLast == 0 {
		return nil, false, nil
	}

	payload := append([]byte(nil), a.buf...)
	a.buf = a.buf[:0]
	a.started = false
	return payload, true, nil
}

var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// crcCCITT is the reflected CCITT CRC-16 used by S101 (same as X.25/PPP).
func crcCCITT(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc>>8 ^ crcTable[byte(crc)^b]
	}
	return crc
}
