package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"subsurvey/internal/config"
	"subsurvey/internal/link"
	"subsurvey/internal/serialport"
)

type nopPort struct{}

func (nopPort) Read(b []byte) (int, error)  { return 0, nil }
func (nopPort) Write(b []byte) (int, error) { return len(b), nil }
func (nopPort) Close() error                { return nil }

func TestOpenTransport_Serial(t *testing.T) {
	old := openSerialFn
	t.Cleanup(func() { openSerialFn = old })

	var got serialport.Config
	openSerialFn = func(cfg serialport.Config) (io.ReadWriteCloser, string, error) {
		got = cfg
		return nopPort{}, "/dev/ttyAMA0", nil
	}
	tr, err := openTransport(config.LinkConfig{Baud: 115200})
	if err != nil {
		t.Fatalf("openTransport() error: %v", err)
	}
	if tr.mode != modeSerial || tr.device != "/dev/ttyAMA0" || tr.sim != nil {
		t.Fatalf("transport=%+v", tr)
	}
	if got.Baud != 115200 {
		t.Fatalf("baud=%d want 115200", got.Baud)
	}

	openSerialFn = func(serialport.Config) (io.ReadWriteCloser, string, error) {
		return nil, "", errors.New("no device")
	}
	if _, err := openTransport(config.LinkConfig{}); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestOpenTransport_Sim(t *testing.T) {
	tr, err := openTransport(config.LinkConfig{Simulate: true})
	if err != nil {
		t.Fatalf("openTransport() error: %v", err)
	}
	if tr.mode != modeSim || tr.sim == nil {
		t.Fatalf("transport=%+v", tr)
	}
}

func TestOpenTransport_Replay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.log")
	if err := os.WriteFile(path, []byte("START\n0,rx,STATUS,nav_state=idle\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	tr, err := openTransport(config.LinkConfig{Replay: config.ReplayConfig{Enable: true, Path: path, Speed: 1}})
	if err != nil {
		t.Fatalf("openTransport() error: %v", err)
	}
	if tr.mode != modeReplay || tr.device != path {
		t.Fatalf("transport=%+v", tr)
	}

	codec := link.NewCodec(tr.rw, link.Options{})
	fr, err := codec.Latest()
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if fr == nil || fr.Nav != link.NavIdle {
		t.Fatalf("frame=%v want idle", fr)
	}

	txOnly := filepath.Join(dir, "tx.log")
	if err := os.WriteFile(txOnly, []byte("0,tx,GOTO,x=1.00,y=1.00,v=1.00\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := openTransport(config.LinkConfig{Replay: config.ReplayConfig{Enable: true, Path: txOnly, Speed: 1}}); err == nil {
		t.Fatalf("expected error for a log without rx lines")
	}
}

func TestTeeTap(t *testing.T) {
	if teeTap(nil, nil) != nil {
		t.Fatalf("teeTap without sinks should be nil")
	}
	var a, b []string
	tap := teeTap(
		func(d link.Direction, l string) { a = append(a, string(d)+" "+l) },
		nil,
		func(d link.Direction, l string) { b = append(b, l) },
	)
	tap(link.TX, "GOTO,x=1.00,y=2.00,v=0.50")
	if len(a) != 1 || a[0] != "tx GOTO,x=1.00,y=2.00,v=0.50" || len(b) != 1 {
		t.Fatalf("a=%v b=%v", a, b)
	}
}
