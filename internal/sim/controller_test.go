package sim

import (
	"strings"
	"testing"

	"subsurvey/internal/link"
)

func pollStates(t *testing.T, codec *link.Codec, n int) []link.NavState {
	t.Helper()
	var out []link.NavState
	for i := 0; i < n; i++ {
		frames, err := codec.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		for _, fr := range frames {
			out = append(out, fr.Nav)
		}
	}
	return out
}

func TestController_GotoBusyThenArrived(t *testing.T) {
	c := New(Config{ArriveAfter: 2, StatusEvery: 100})
	codec := link.NewCodec(c, link.Options{})

	if err := codec.SendGoto(4, 2, 0.5); err != nil {
		t.Fatalf("SendGoto: %v", err)
	}
	got := pollStates(t, codec, 2)
	want := []link.NavState{link.NavBusy, link.NavBusy, link.NavArrived}
	if len(got) != len(want) {
		t.Fatalf("states=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states=%v want %v", got, want)
		}
	}
	s := c.Snapshot()
	if s.X != 4 || s.Y != 2 || s.Arrived != 1 || s.Gotos != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
	if s.BatteryV >= 16.8 {
		t.Fatalf("battery did not drain: %v", s.BatteryV)
	}
}

func TestController_StatusCarriesBatteryAndPosition(t *testing.T) {
	c := New(Config{ArriveAfter: 4, StatusEvery: 100})
	codec := link.NewCodec(c, link.Options{})
	_ = codec.SendGoto(8, 0, 1)
	fr, err := codec.Latest()
	if err != nil || fr == nil {
		t.Fatalf("Latest fr=%v err=%v", fr, err)
	}
	// Busy from the GOTO, then one step of four.
	if fr.Nav != link.NavBusy {
		t.Fatalf("nav=%v want busy", fr.Nav)
	}
	if x, ok := fr.Fields["x"].(float64); !ok || x != 2 {
		t.Fatalf("x=%v want 2", fr.Fields["x"])
	}
	if _, ok := fr.Fields["batt"].(float64); !ok {
		t.Fatalf("batt=%v", fr.Fields["batt"])
	}
}

func TestController_FailEvery(t *testing.T) {
	c := New(Config{ArriveAfter: 1, FailEvery: 2, StatusEvery: 100})
	codec := link.NewCodec(c, link.Options{})

	_ = codec.SendGoto(1, 0, 1)
	first := pollStates(t, codec, 1)
	_ = codec.SendGoto(2, 0, 1)
	second := pollStates(t, codec, 1)

	if len(first) != 2 || first[1] != link.NavArrived {
		t.Fatalf("first=%v", first)
	}
	if len(second) != 1 || second[0] != link.NavFailed {
		t.Fatalf("second=%v", second)
	}
	if s := c.Snapshot(); s.Failed != 1 || s.X != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestController_IdleStatusAndIgnoresPI(t *testing.T) {
	c := New(Config{StatusEvery: 3})
	codec := link.NewCodec(c, link.Options{})
	if err := codec.SendState(link.HostState{Meters: 2, Autonomous: true}); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	got := pollStates(t, codec, 6)
	if len(got) != 2 || got[0] != link.NavIdle || got[1] != link.NavIdle {
		t.Fatalf("states=%v want two idle", got)
	}
	s := c.Snapshot()
	if s.States != 1 || !strings.HasPrefix(s.LastPI, "PI,ab=2.00") {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestController_IgnoresMalformed(t *testing.T) {
	c := New(Config{})
	_, _ = c.Write([]byte("GOTO,x,1,2\nHELLO\n"))
	if s := c.Snapshot(); s.Ignored != 2 || s.Gotos != 0 {
		t.Fatalf("snapshot=%+v", s)
	}
}
