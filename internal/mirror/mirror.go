// Package mirror copies every controller link line to a topside UDP
// listener so the serial traffic can be watched live.
package mirror

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"subsurvey/internal/link"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

type Mirror struct {
	dest string

	mu   sync.Mutex
	conn udpConn

	sent    atomic.Uint64
	errs    atomic.Uint64
	errOnce sync.Once
}

type Snapshot struct {
	Dest   string `json:"dest"`
	Sent   uint64 `json:"sent"`
	Errors uint64 `json:"errors"`
}

func New(dest string) (*Mirror, error) {
	return newMirror(dest, net.ResolveUDPAddr, dialUDP)
}

func newMirror(dest string, resolve resolveFunc, dial dialFunc) (*Mirror, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Mirror{dest: dest, conn: conn}, nil
}

// Send writes one datagram. Empty payloads are dropped.
func (m *Mirror) Send(payload []byte) error {
	if m == nil || len(payload) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Write(payload)
	return err
}

// Tap is a link.Options Tap: each line goes out as "<dir> <line>".
func (m *Mirror) Tap(dir link.Direction, line string) {
	if m == nil {
		return
	}
	if err := m.Send([]byte(string(dir) + " " + line)); err != nil {
		m.errs.Add(1)
		// A missing listener makes every write fail; say so once.
		m.errOnce.Do(func() { log.Printf("mirror: send dest=%s: %v", m.dest, err) })
		return
	}
	m.sent.Add(1)
}

func (m *Mirror) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{Dest: m.dest, Sent: m.sent.Load(), Errors: m.errs.Load()}
}

func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
