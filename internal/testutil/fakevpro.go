// Package testutil provides an in-process Ember+ device for tests.
package testutil

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/ember"
)

// Mode controls how the fake device answers requests.
type Mode int

const (
	// ModeNormal answers every request.
	ModeNormal Mode = iota
	// ModeSilent reads requests and never answers.
	ModeSilent
	// ModeGarbage answers with a frame whose CRC is wrong.
	ModeGarbage
	// ModeBadPayload answers with a valid frame carrying invalid BER.
	ModeBadPayload
	// ModeHangup closes the connection as soon as a request arrives.
	ModeHangup
)

// Tree layout of the fake device, matching a VPRO unit.
var (
	PathDevice       = ember.Path{1}
	PathVideoMatrix  = ember.Path{1, 10}
	PathLabels       = ember.Path{1, 10, 1}
	PathTargetLabels = ember.Path{1, 10, 1, 1}
	PathSourceLabels = ember.Path{1, 10, 1, 2}
	PathMatrix       = ember.Path{1, 10, 2}
)

// FakeVPRO is a TCP server speaking the subset of Ember+ a VPRO unit uses
// for its video matrix.
type FakeVPRO struct {
	listener net.Listener
	wg       sync.WaitGroup

	mu             sync.Mutex
	targets        int
	sources        int
	routes         map[int]int
	locked         map[int]bool
	targetLabels   map[int]string
	sourceLabels   map[int]string
	mode           Mode
	labelMode      Mode
	pending        bool
	keepAliveFirst bool
	unsolicited    bool
	replyDelay     time.Duration
	accepted       int
	requests       int
	connects       []ember.Connection
	conns          map[net.Conn]struct{}
	closed         bool
}

// NewFakeVPRO starts a fake device with the given matrix size. It is closed
// when the test ends.
func NewFakeVPRO(t testing.TB, targets, sources int) *FakeVPRO {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &FakeVPRO{
		listener:     ln,
		targets:      targets,
		sources:      sources,
		routes:       make(map[int]int),
		locked:       make(map[int]bool),
		targetLabels: make(map[int]string),
		sourceLabels: make(map[int]string),
		conns:        make(map[net.Conn]struct{}),
	}
	f.wg.Add(1)
	go f.acceptLoop()
	t.Cleanup(f.Close)
	return f
}

func (f *FakeVPRO) Host() string {
	return f.listener.Addr().(*net.TCPAddr).IP.String()
}

func (f *FakeVPRO) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// Address returns host:port.
func (f *FakeVPRO) Address() string {
	return net.JoinHostPort(f.Host(), strconv.Itoa(f.Port()))
}

func (f *FakeVPRO) SetMode(m Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
}

// SetPending makes connect replies report the pending disposition.
func (f *FakeVPRO) SetPending(pending bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = pending
}

// SetKeepAliveFirst makes the device send a keep-alive request before
// every reply.
func (f *FakeVPRO) SetKeepAliveFirst(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAliveFirst = v
}

// SetLabelMode applies m to label node requests only. Every other request
// is still answered according to SetMode.
func (f *FakeVPRO) SetLabelMode(m Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelMode = m
}

// SetUnsolicitedFirst makes the device push an unrelated parameter update
// before every reply.
func (f *FakeVPRO) SetUnsolicitedFirst(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsolicited = v
}

// SetReplyDelay makes the device wait d after each request before it sends
// anything back, keep-alive requests included.
func (f *FakeVPRO) SetReplyDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyDelay = d
}

func (f *FakeVPRO) SetRoute(target, source int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[target] = source
}

// Route returns the source currently routed to target.
func (f *FakeVPRO) Route(target int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.routes[target]
	return src, ok
}

// Lock makes the device refuse changes to target.
func (f *FakeVPRO) Lock(target int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[target] = true
}

func (f *FakeVPRO) SetTargetLabel(target int, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targetLabels[target] = label
}

func (f *FakeVPRO) SetSourceLabel(source int, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceLabels[source] = label
}

// Accepted returns the number of TCP connections accepted so far.
func (f *FakeVPRO) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Requests returns the number of EmBER messages received so far.
func (f *FakeVPRO) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// Connects returns every connect operation received, in order.
func (f *FakeVPRO) Connects() []ember.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ember.Connection(nil), f.connects...)
}

// Close stops the listener and drops open connections.
func (f *FakeVPRO) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.listener.Close()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *FakeVPRO) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			conn.Close()
			return
		}
		f.accepted++
		f.conns[conn] = struct{}{}
		f.mu.Unlock()

		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *FakeVPRO) serve(conn net.Conn) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	r := ember.NewReader(conn)
	var asm ember.Assembler
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			return
		}
		switch frame.Command {
		case ember.CommandKeepAliveRequest:
			if _, err := conn.Write(ember.EncodeKeepAlive(ember.CommandKeepAliveResponse)); err != nil {
				return
			}
			continue
		case ember.CommandKeepAliveResponse:
			continue
		}

		msg, done, err := asm.Add(frame)
		if err != nil {
			return
		}
		if !done {
			continue
		}
		if err := f.handle(conn, msg); err != nil {
			return
		}
	}
}

var errHangup = errors.New("hangup")

func (f *FakeVPRO) handle(conn net.Conn, msg []byte) error {
	f.mu.Lock()
	f.requests++
	mode := f.mode
	labelMode := f.labelMode
	keepAlive := f.keepAliveFirst
	unsolicited := f.unsolicited
	delay := f.replyDelay
	f.mu.Unlock()

	if mode == ModeNormal && labelMode != ModeNormal && isLabelRequest(msg) {
		mode = labelMode
	}

	switch mode {
	case ModeSilent:
		return nil
	case ModeHangup:
		return errHangup
	case ModeGarbage:
		_, err := conn.Write([]byte{ember.BOF, 0x00, 0x0E, 0x00, 0x01, 0x40, 0x01, 0x02, 0x28, 0x02, 0x99, 0x12, 0x34, ember.EOF})
		return err
	case ModeBadPayload:
		_, err := conn.Write(ember.EncodeMessage([]byte{0x60, 0x05, 0x01}))
		return err
	}

	root, err := ember.DecodeRoot(msg)
	if err != nil {
		return err
	}
	reply := f.reply(root)

	if delay > 0 {
		time.Sleep(delay)
	}
	if keepAlive {
		if _, err := conn.Write(ember.EncodeKeepAlive(ember.CommandKeepAliveRequest)); err != nil {
			return err
		}
	}
	if unsolicited {
		if _, err := conn.Write(ember.EncodeMessage(UnsolicitedUpdate().Encode())); err != nil {
			return err
		}
	}
	_, err = conn.Write(ember.EncodeMessage(reply.Encode()))
	return err
}

// UnsolicitedUpdate is the parameter change the device pushes when
// SetUnsolicitedFirst is on.
func UnsolicitedUpdate() *ember.Root {
	return &ember.Root{Elements: []*ember.Element{{
		Kind:       ember.KindParameter,
		Qualified:  true,
		Path:       ember.Path{1, 3, 7},
		Identifier: "Temperature",
		Value:      int64(41),
	}}}
}

func isLabelRequest(msg []byte) bool {
	root, err := ember.DecodeRoot(msg)
	if err != nil {
		return false
	}
	for _, e := range root.Elements {
		if e.Kind == ember.KindNode && e.Path.IsChildOf(PathLabels) {
			return true
		}
	}
	return false
}

func (f *FakeVPRO) reply(req *ember.Root) *ember.Root {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &ember.Root{}
	for _, e := range req.Elements {
		switch {
		case e.Kind == ember.KindCommand:
			out.Elements = append(out.Elements, f.children(ember.Path{})...)
		case e.Kind == ember.KindMatrix && len(e.Connections) > 0:
			out.Elements = append(out.Elements, f.connect(e))
		case e.Kind == ember.KindMatrix:
			out.Elements = append(out.Elements, f.matrix(true))
		case e.Kind == ember.KindNode:
			children := f.children(e.Path)
			if len(children) == 0 {
				// Nodes without children answer with themselves.
				children = []*ember.Element{{Kind: ember.KindNode, Qualified: true, Path: e.Path}}
			}
			out.Elements = append(out.Elements, children...)
		}
	}
	return out
}

// children lists the elements below path as qualified elements.
func (f *FakeVPRO) children(path ember.Path) []*ember.Element {
	node := func(p ember.Path, id string) *ember.Element {
		return &ember.Element{Kind: ember.KindNode, Qualified: true, Path: p, Identifier: id}
	}
	labels := func(p ember.Path, names map[int]string, count int, prefix string) []*ember.Element {
		var out []*ember.Element
		for i := 0; i < count; i++ {
			name, ok := names[i]
			if !ok {
				name = prefix + " " + strconv.Itoa(i+1)
			}
			out = append(out, &ember.Element{
				Kind:       ember.KindParameter,
				Qualified:  true,
				Path:       p.Child(uint32(i)),
				Identifier: name,
				Value:      name,
			})
		}
		return out
	}

	switch {
	case len(path) == 0:
		return []*ember.Element{node(PathDevice, "pro8")}
	case path.Equal(PathDevice):
		return []*ember.Element{node(PathVideoMatrix, "Video-Matrix")}
	case path.Equal(PathVideoMatrix):
		return []*ember.Element{node(PathLabels, "Labels"), f.matrix(false)}
	case path.Equal(PathLabels):
		return []*ember.Element{node(PathTargetLabels, "Targets"), node(PathSourceLabels, "Sources")}
	case path.Equal(PathTargetLabels):
		return labels(path, f.targetLabels, f.targets, "OUT")
	case path.Equal(PathSourceLabels):
		return labels(path, f.sourceLabels, f.sources, "IN")
	}
	return nil
}

func (f *FakeVPRO) matrix(withConnections bool) *ember.Element {
	m := &ember.Element{
		Kind:       ember.KindMatrix,
		Qualified:  true,
		Path:       PathMatrix,
		Identifier: "Matrix",
		Matrix: &ember.MatrixContents{
			Type:                 ember.MatrixOneToN,
			TargetCount:          int32(f.targets),
			SourceCount:          int32(f.sources),
			MaxConnectsPerTarget: 1,
			Labels:               []ember.Label{{BasePath: PathLabels, Description: "Primary"}},
		},
	}
	if withConnections {
		for t := 0; t < f.targets; t++ {
			if src, ok := f.routes[t]; ok {
				m.Connections = append(m.Connections, ember.Connection{Target: int32(t), Sources: []uint32{uint32(src)}})
			}
		}
	}
	return m
}

// connect applies connect requests and echoes the affected targets. Targets
// outside the matrix are not echoed.
func (f *FakeVPRO) connect(req *ember.Element) *ember.Element {
	m := f.matrix(false)
	for _, c := range req.Connections {
		f.connects = append(f.connects, c)

		target := int(c.Target)
		if target < 0 || target >= f.targets {
			continue
		}
		if f.locked[target] {
			echo := ember.Connection{Target: c.Target, Disposition: ember.DispositionLocked}
			if src, ok := f.routes[target]; ok {
				echo.Sources = []uint32{uint32(src)}
			}
			m.Connections = append(m.Connections, echo)
			continue
		}
		if len(c.Sources) == 0 || int(c.Sources[0]) >= f.sources {
			continue
		}

		f.routes[target] = int(c.Sources[0])
		disposition := ember.DispositionModified
		if f.pending {
			disposition = ember.DispositionPending
		}
		m.Connections = append(m.Connections, ember.Connection{
			Target:      c.Target,
			Sources:     []uint32{c.Sources[0]},
			Disposition: disposition,
		})
	}
	return m
}
