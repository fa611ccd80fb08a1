package main

import (
	"fmt"
	"io"
	"log"

	"subsurvey/internal/config"
	"subsurvey/internal/link"
	"subsurvey/internal/replay"
	"subsurvey/internal/serialport"
	"subsurvey/internal/sim"
)

// Link modes reported on /api/status.
const (
	modeSerial = "serial"
	modeSim    = "sim"
	modeReplay = "replay"
)

var openSerialFn = func(cfg serialport.Config) (io.ReadWriteCloser, string, error) {
	return serialport.Open(cfg)
}

// linkTransport is the byte stream the codec runs on.
type linkTransport struct {
	rw     io.ReadWriteCloser
	mode   string
	device string
	sim    *sim.Controller
}

func openTransport(c config.LinkConfig) (linkTransport, error) {
	switch {
	case c.Simulate:
		ctl := sim.New(sim.Config{ArriveAfter: c.Sim.ArriveAfter, FailEvery: c.Sim.FailEvery})
		return linkTransport{rw: ctl, mode: modeSim, device: "sim", sim: ctl}, nil
	case c.Replay.Enable:
		recs, err := replay.ReadFile(c.Replay.Path)
		if err != nil {
			return linkTransport{}, fmt.Errorf("link replay: %w", err)
		}
		p, err := replay.NewPlayer(recs, c.Replay.Speed, c.Replay.Loop)
		if err != nil {
			return linkTransport{}, fmt.Errorf("link replay %s: %w", c.Replay.Path, err)
		}
		log.Printf("link replay path=%s records=%d speed=%.2f loop=%t", c.Replay.Path, len(recs), c.Replay.Speed, c.Replay.Loop)
		return linkTransport{rw: p, mode: modeReplay, device: c.Replay.Path}, nil
	default:
		rw, dev, err := openSerialFn(serialport.Config{Device: c.Device, Baud: c.Baud, ReadTimeout: c.ReadTimeout})
		if err != nil {
			return linkTransport{}, err
		}
		return linkTransport{rw: rw, mode: modeSerial, device: dev}, nil
	}
}

// teeTap fans a codec tap out to every non-nil sink.
func teeTap(sinks ...func(link.Direction, string)) func(link.Direction, string) {
	var active []func(link.Direction, string)
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(dir link.Direction, line string) {
		for _, s := range active {
			s(dir, line)
		}
	}
}
