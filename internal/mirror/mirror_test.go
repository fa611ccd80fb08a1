package mirror

import (
	"errors"
	"net"
	"testing"

	"subsurvey/internal/link"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNew_DialsResolvedAddr(t *testing.T) {
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotRaddr = raddr
		return fc, nil
	}

	m, err := newMirror("127.0.0.1:4000", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newMirror() error: %v", err)
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
	if err := m.Close(); err != nil || !fc.closed {
		t.Fatalf("Close err=%v closed=%v", err, fc.closed)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close err=%v", err)
	}
}

func TestNew_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	if _, err := newMirror("bad:addr", resolve, dial); !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestTap_PrefixesDirection(t *testing.T) {
	fc := &fakeConn{}
	m := &Mirror{dest: "x", conn: fc}

	m.Tap(link.RX, "STATUS,nav_state=idle")
	m.Tap(link.TX, "GOTO,x=1.00,y=2.00,v=0.50")

	if len(fc.writes) != 2 {
		t.Fatalf("writes=%d want 2", len(fc.writes))
	}
	if got := string(fc.writes[0]); got != "rx STATUS,nav_state=idle" {
		t.Fatalf("write0=%q", got)
	}
	if got := string(fc.writes[1]); got != "tx GOTO,x=1.00,y=2.00,v=0.50" {
		t.Fatalf("write1=%q", got)
	}
	if s := m.Snapshot(); s.Sent != 2 || s.Errors != 0 {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestTap_CountsErrors(t *testing.T) {
	fc := &fakeConn{writeErr: errors.New("refused")}
	m := &Mirror{dest: "x", conn: fc}
	m.Tap(link.RX, "a")
	m.Tap(link.RX, "b")
	if s := m.Snapshot(); s.Errors != 2 || s.Sent != 0 {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestSend_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	m := &Mirror{dest: "x", conn: fc}
	if err := m.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestNilMirrorSafe(t *testing.T) {
	var m *Mirror
	m.Tap(link.RX, "x")
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	_ = m.Snapshot()
}
