// Package nav drives a waypoint plan through the field unit one GOTO at a
// time.
//
// The Dispatcher is confined to the control loop goroutine. Readers on other
// goroutines use Snapshot.
package nav

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"subsurvey/internal/coverage"
	"subsurvey/internal/link"
)

// State is the dispatcher's navigation state.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sender issues a motion command. *link.Codec satisfies it.
type Sender interface {
	SendGoto(x, y, speed float64) error
}

// Input is the mission state consulted when the dispatcher is idle.
type Input struct {
	ExplorationEnabled bool

	// Speed is only used when SpeedKnown is set.
	Speed      float64
	SpeedKnown bool
}

// EventKind names a dispatcher transition.
type EventKind string

const (
	EventSent    EventKind = "sent"
	EventArrived EventKind = "arrived"
	EventFailed  EventKind = "failed"
)

// Event describes a waypoint transition. Seq is the waypoint's index in the
// plan.
type Event struct {
	PlanID   string
	Seq      int
	Kind     EventKind
	Waypoint r2.Point
	At       time.Time
	Err      error
}

// Observer receives events on the control loop goroutine.
type Observer func(Event)

// Report is the failure summary merged into the backend status upload.
type Report struct {
	FailedCount         int `json:"failed_count"`
	TotalPlanned        int `json:"total_planned"`
	FailureRatioPercent int `json:"failure_ratio_percent"`
}

// Snapshot is a copy of the dispatcher state for the status API.
type Snapshot struct {
	PlanID string `json:"plan_id,omitempty"`
	State  string `json:"state"`
	Cursor int    `json:"cursor"`

	Report

	NextX *float64 `json:"next_x,omitempty"`
	NextY *float64 `json:"next_y,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// Dispatcher is the navigation state machine.
type Dispatcher struct {
	sender   Sender
	observer Observer
	now      func() time.Time

	plan   coverage.Plan
	planID string
	state  State
	cursor int
	failed int

	last    r2.Point
	hasLast bool
	lastErr string

	snap atomic.Value // Snapshot
}

// New returns an idle dispatcher with an empty plan. obs may be nil.
func New(sender Sender, obs Observer) *Dispatcher {
	d := &Dispatcher{sender: sender, observer: obs, now: time.Now}
	d.publish()
	return d
}

// SetPlan replaces the plan and resets cursor, state and failure count.
// Any GOTO already on the wire is not cancelled.
func (d *Dispatcher) SetPlan(p coverage.Plan) {
	d.plan = p
	d.planID = uuid.NewString()
	d.state = Idle
	d.cursor = 0
	d.failed = 0
	d.hasLast = false
	d.lastErr = ""
	d.publish()
}

// Plan returns the active plan.
func (d *Dispatcher) Plan() coverage.Plan { return d.plan }

// PlanID identifies the active plan in journals.
func (d *Dispatcher) PlanID() string { return d.planID }

// State returns the current state.
func (d *Dispatcher) State() State { return d.state }

// Cursor is the index of the next waypoint to send.
func (d *Dispatcher) Cursor() int { return d.cursor }

// FailedCount is the number of waypoints reported failed under this plan.
func (d *Dispatcher) FailedCount() int { return d.failed }

// Observe applies a status frame to an in-flight waypoint. A nil frame, a
// frame without a navigation signal, busy and idle leave the state alone.
func (d *Dispatcher) Observe(fr *link.StatusFrame) {
	if d.state != InFlight || fr == nil {
		return
	}
	switch fr.Nav {
	case link.NavFailed:
		d.failed++
		d.state = Idle
		d.emit(EventFailed, d.cursor-1, nil)
	case link.NavArrived:
		d.state = Idle
		d.emit(EventArrived, d.cursor-1, nil)
	default:
		return
	}
	d.publish()
}

// Dispatch sends the next waypoint when idle, exploring, and the speed is
// known. A send error is returned but the waypoint still counts as issued.
func (d *Dispatcher) Dispatch(in Input) error {
	if d.state != Idle || !in.ExplorationEnabled || !in.SpeedKnown {
		return nil
	}
	if d.cursor >= d.plan.Len() {
		return nil
	}

	seq := d.cursor
	wp := d.plan.At(seq)
	var err error
	if d.sender == nil {
		err = fmt.Errorf("nav sender is nil")
	} else if serr := d.sender.SendGoto(wp.X, wp.Y, in.Speed); serr != nil {
		err = fmt.Errorf("send waypoint %d: %w", seq, serr)
	}

	d.state = InFlight
	d.cursor++
	d.last = wp
	d.hasLast = true
	if err != nil {
		d.lastErr = err.Error()
	}
	d.emit(EventSent, seq, err)
	d.publish()
	return err
}

// Tick runs Observe then Dispatch.
func (d *Dispatcher) Tick(fr *link.StatusFrame, in Input) error {
	d.Observe(fr)
	return d.Dispatch(in)
}

// Step observes every frame of one poll in arrival order, then dispatches,
// so an arrival followed by a heartbeat in the same read is not lost.
func (d *Dispatcher) Step(frames []link.StatusFrame, in Input) error {
	for i := range frames {
		d.Observe(&frames[i])
	}
	return d.Dispatch(in)
}

// Report returns the failure summary for the active plan.
func (d *Dispatcher) Report() Report {
	total := d.plan.TotalPlanned()
	r := Report{FailedCount: d.failed, TotalPlanned: total}
	if total > 0 {
		// Halves round to even: 12.5 reports 12, 37.5 reports 38.
		r.FailureRatioPercent = int(math.RoundToEven(float64(d.failed) / float64(total) * 100))
	}
	return r
}

// LastIssued returns the most recently sent waypoint.
func (d *Dispatcher) LastIssued() (r2.Point, bool) { return d.last, d.hasLast }

// Snapshot is safe to call from any goroutine.
func (d *Dispatcher) Snapshot() Snapshot {
	if d == nil {
		return Snapshot{}
	}
	v := d.snap.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (d *Dispatcher) emit(kind EventKind, seq int, err error) {
	if d.observer == nil || seq < 0 || seq >= d.plan.Len() {
		return
	}
	d.observer(Event{
		PlanID:   d.planID,
		Seq:      seq,
		Kind:     kind,
		Waypoint: d.plan.At(seq),
		At:       d.now().UTC(),
		Err:      err,
	})
}

func (d *Dispatcher) publish() {
	s := Snapshot{
		PlanID:    d.planID,
		State:     d.state.String(),
		Cursor:    d.cursor,
		Report:    d.Report(),
		LastError: d.lastErr,
	}
	if d.hasLast {
		x, y := d.last.X, d.last.Y
		s.NextX = &x
		s.NextY = &y
	}
	d.snap.Store(s)
}
