package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r2"

	"subsurvey/internal/camera"
	"subsurvey/internal/config"
	"subsurvey/internal/coverage"
	"subsurvey/internal/gps"
	"subsurvey/internal/link"
	"subsurvey/internal/messaging"
	"subsurvey/internal/mirror"
	"subsurvey/internal/mission"
	"subsurvey/internal/nav"
	"subsurvey/internal/replay"
	"subsurvey/internal/sensors"
	"subsurvey/internal/statusled"
	"subsurvey/internal/store"
	"subsurvey/internal/uploader"
	"subsurvey/internal/web"
)

// runtime wires every service around the single control loop. Fields in the
// "loop" block are only touched by Run's goroutine.
type runtime struct {
	cfg    config.Config
	status *web.Status
	now    func() time.Time

	transport linkTransport
	codec     *link.Codec
	nav       *nav.Dispatcher
	db        *store.DB
	recorder  *replay.Writer
	mirror    *mirror.Mirror

	client   *mission.Client
	commands *mission.Commands
	poller   *mission.Poller

	gpsSvc     *gps.Service
	sensorsSvc *sensors.Service
	led        *statusled.LED
	cam        *camera.Camera
	uploader   *uploader.Uploader
	msgClient  *messaging.Client
	drainer    *messaging.OutboxDrainer

	// loop
	settings   mission.Settings
	polygon    []r2.Point
	footprint  float64
	planned    bool
	lastState  time.Time
	lastPhoto  time.Time
	linkErrors uint64

	settingsV atomic.Value // mission.Settings
	frame     atomic.Value // link.StatusFrame
	planV     atomic.Value // coverage.Plan
	capturing atomic.Bool
	ledTest   atomic.Bool

	postFailures atomic.Uint64

	wg sync.WaitGroup
}

func newRuntime(ctx context.Context, cfg config.Config, status *web.Status) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("status is nil")
	}

	tr, err := openTransport(c.Link)
	if err != nil {
		return nil, fmt.Errorf("link open failed: %w", err)
	}
	r := &runtime{
		cfg:       c,
		status:    status,
		now:       time.Now,
		transport: tr,
		settings:  mission.Defaults(),
		footprint: c.Mission.DefaultFootprintM2,
	}
	r.settingsV.Store(r.settings)
	r.planV.Store(coverage.Plan{})

	var taps []func(link.Direction, string)
	if c.Link.Record.Enable {
		w, err := replay.CreateWriter(c.Link.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("link record: %w", err)
		}
		log.Printf("link record path=%s", c.Link.Record.Path)
		r.recorder = w
		taps = append(taps, w.Tap)
	}
	if c.Mirror.Dest != "" {
		m, err := mirror.New(c.Mirror.Dest)
		if err != nil {
			log.Printf("mirror init failed: %v", err)
		} else {
			log.Printf("mirror dest=%s", c.Mirror.Dest)
			r.mirror = m
			taps = append(taps, m.Tap)
		}
	}
	r.codec = link.NewCodec(tr.rw, link.Options{MaxLineBytes: c.Link.MaxLineBytes, Tap: teeTap(taps...)})

	db, err := store.Open(c.Store.Path)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("store open failed: %w", err)
	}
	r.db = db
	r.nav = nav.New(r.codec, r.onNavEvent)

	r.client = mission.NewClient(c.Mission.BaseURL, c.Mission.RequestTimeout)
	r.commands = mission.NewCommands(r.client)
	r.poller = mission.NewPoller(r.client, mission.PollerOptions{
		Interval: c.Mission.PollInterval,
		Commands: r.commands,
		OnExploreOff: func(context.Context) {
			r.uploader.Trigger()
		},
	})

	if c.GPS.Enable {
		svc := gps.New(gps.Config{Enable: true, Device: c.GPS.Device, Baud: c.GPS.Baud})
		if err := svc.Start(ctx); err != nil {
			// Keep running without a fix; PI lines just omit position.
			log.Printf("gps init failed: %v", err)
		}
		r.gpsSvc = svc
	}

	r.sensorsSvc = sensors.New(sensors.Config{
		Leak: sensors.LeakConfig{
			Enable:        c.Sensors.Leak.Enable,
			Chip:          c.Sensors.Leak.Chip,
			Pin:           c.Sensors.Leak.Pin,
			ActiveHigh:    c.Sensors.Leak.ActiveHigh,
			SamplePeriod:  c.Sensors.Leak.SamplePeriod,
			DebounceCount: c.Sensors.Leak.DebounceCount,
		},
		Climate: sensors.ClimateConfig{Enable: c.Sensors.Climate.Enable, Dir: c.Sensors.Climate.Dir},
	})
	r.sensorsSvc.OnLeak = func() {
		log.Printf("leak detected; status led forced to warning")
	}
	if err := r.sensorsSvc.Start(ctx); err != nil {
		log.Printf("sensors init failed: %v", err)
	}

	if c.LED.Enable {
		led, err := statusled.Open(statusled.Config{
			Chip:       c.LED.Chip,
			RedPin:     c.LED.RedPin,
			GreenPin:   c.LED.GreenPin,
			BluePin:    c.LED.BluePin,
			ActiveHigh: c.LED.ActiveHigh,
		})
		if err != nil {
			log.Printf("status led init failed: %v", err)
		} else {
			r.led = led
		}
	}

	if c.Camera.Enable {
		cam, err := camera.New(camera.Config{
			PhotoDir: c.Camera.PhotoDir,
			Command:  c.Camera.Command,
			Timeout:  c.Camera.Timeout,
			FlashPin: c.Camera.FlashPin,
		})
		if err != nil {
			log.Printf("camera init failed: %v", err)
		} else {
			r.cam = cam
		}
	}

	if c.Upload.Enable {
		r.uploader = uploader.New(uploader.Config{
			BaseURL:  c.Mission.BaseURL,
			PhotoDir: c.Camera.PhotoDir,
			Interval: c.Upload.Interval,
			Timeout:  c.Upload.Timeout,
		}, r.db, r.client)
	}

	if c.Messaging.Backend != "" {
		mc := messaging.NewClient(messaging.Config{
			Backend:  c.Messaging.Backend,
			Brokers:  c.Messaging.Brokers,
			Topic:    c.Messaging.Topic,
			ClientID: c.Messaging.ClientID,
		})
		if err := mc.Connect(); err != nil {
			// The outbox keeps messages until a later drain finds the broker.
			log.Printf("messaging init failed: %v", err)
		}
		r.msgClient = mc
		r.drainer = messaging.NewOutboxDrainer(r.db, mc, c.Messaging.Backend, c.Messaging.Topic, c.Mission.UpdateInterval, c.Messaging.Retention)
		r.drainer.Start()
	}

	registerCommands(r)
	r.registerStatus()
	return r, nil
}

func (r *runtime) registerStatus() {
	s := r.status
	s.SetStatic(r.transport.mode, r.transport.device)
	s.Register("nav", func() any { return r.nav.Snapshot() })
	s.Register("link", func() any { return r.codec.Snapshot() })
	s.Register("mission", func() any { return r.poller.Snapshot() })
	s.Register("sensors", func() any { return r.sensorsSvc.Snapshot() })
	s.Register("journal", func() any {
		evs, err := r.db.RecentDispatchEvents(10)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return evs
	})
	if r.gpsSvc != nil {
		s.Register("gps", func() any { return r.gpsSvc.Snapshot() })
	}
	if r.led != nil {
		s.Register("led", func() any { return r.led.State() })
	}
	if r.cam != nil {
		s.Register("camera", func() any { return r.cam.Snapshot() })
	}
	if r.uploader != nil {
		s.Register("uploader", func() any { return r.uploader.Snapshot() })
	}
	if r.drainer != nil {
		s.Register("messaging", func() any { return r.drainer.Snapshot() })
	}
	if r.mirror != nil {
		s.Register("mirror", func() any { return r.mirror.Snapshot() })
	}
	if r.transport.sim != nil {
		s.Register("sim", func() any { return r.transport.sim.Snapshot() })
	}
}

// Run drives the control loop until ctx is done. Background services run on
// their own goroutines and are waited for before Run returns.
func (r *runtime) Run(ctx context.Context) error {
	r.spawn(func() { r.poller.Run(ctx) })
	if r.uploader != nil {
		r.spawn(func() { r.uploader.Run(ctx) })
	}
	r.spawn(func() { r.reportLoop(ctx) })

	t := time.NewTicker(r.cfg.Control.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return nil
		case st := <-r.poller.Updates():
			r.applySettings(st)
		case <-t.C:
			r.step(ctx, r.now())
		}
	}
}

func (r *runtime) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// applySettings adopts fetched mission settings and replans when the polygon
// or footprint changed.
func (r *runtime) applySettings(st mission.Settings) {
	r.settings = st
	r.settingsV.Store(st)

	poly := st.Points()
	fp := st.Footprint(r.cfg.Mission.DefaultFootprintM2)
	if r.planned && fp == r.footprint && coverage.PolygonsEqual(poly, r.polygon) {
		return
	}
	r.polygon = poly
	r.footprint = fp
	r.planned = true

	plan := coverage.Generate(poly, fp)
	r.nav.SetPlan(plan)
	r.planV.Store(plan)
	log.Printf("plan generated id=%s vertices=%d footprint_m2=%.2f waypoints=%d",
		r.nav.PlanID(), len(poly), fp, plan.Len())
}

// step is one control loop tick.
func (r *runtime) step(ctx context.Context, now time.Time) {
	frames, err := r.codec.Poll()
	if err != nil {
		r.linkErrors++
		if r.linkErrors == 1 || r.linkErrors%100 == 0 {
			log.Printf("link poll failed errors=%d: %v", r.linkErrors, err)
		}
	}
	if len(frames) > 0 {
		r.frame.Store(frames[len(frames)-1])
	}

	st := r.settings
	speed, ok := coverage.TraverseSpeed(r.footprint, st.PhotoInterval().Seconds())
	in := nav.Input{ExplorationEnabled: st.Explore, Speed: speed, SpeedKnown: ok}
	if err := r.nav.Step(frames, in); err != nil {
		log.Printf("nav dispatch: %v", err)
	}

	if now.Sub(r.lastState) >= r.cfg.Control.StateInterval {
		r.lastState = now
		if err := r.codec.SendState(r.hostState(st)); err != nil {
			log.Printf("link state send failed: %v", err)
		}
	}

	r.maybeCapture(ctx, now, st)
	r.updateLED(st)
	r.status.MarkTick(now.UTC())
}

func (r *runtime) hostState(st mission.Settings) link.HostState {
	hs := link.HostState{Meters: st.Meters, Autonomous: st.Autonomous}
	if fix := r.gpsSvc.Fix(); fix.Usable() {
		lat, lon := fix.Lat, fix.Lon
		hs.Lat = &lat
		hs.Lon = &lon
		hs.Alt = fix.AltM
		hs.Heading = fix.HeadingDeg
	}
	ss := r.sensorsSvc.Snapshot()
	if ss.Climate != nil {
		hs.TempC = ss.Climate.TempC
		hs.HumidityPct = ss.Climate.HumidityPct
	}
	hs.Leak = ss.Leak
	return hs
}

// maybeCapture starts a background capture when exploring and the photo
// interval elapsed. At most one capture runs at a time.
func (r *runtime) maybeCapture(ctx context.Context, now time.Time, st mission.Settings) {
	if r.cam == nil || !st.Explore {
		return
	}
	iv := st.PhotoInterval()
	if iv <= 0 || now.Sub(r.lastPhoto) < iv {
		return
	}
	if !r.capturing.CompareAndSwap(false, true) {
		return
	}
	r.lastPhoto = now
	r.spawn(func() {
		defer r.capturing.Store(false)
		if _, err := r.capturePhoto(ctx, now); err != nil {
			log.Printf("photo capture failed: %v", err)
		}
	})
}

// capturePhoto takes a photo and queues it for upload.
func (r *runtime) capturePhoto(ctx context.Context, now time.Time) (store.Photo, error) {
	if r.cam == nil {
		return store.Photo{}, fmt.Errorf("camera not available")
	}
	path, err := r.cam.Capture(ctx, now)
	if err != nil {
		return store.Photo{}, err
	}
	p, err := r.db.AddPhoto(path, now)
	if err != nil {
		return store.Photo{}, fmt.Errorf("queue photo %s: %w", path, err)
	}
	return p, nil
}

func (r *runtime) updateLED(st mission.Settings) {
	if r.led == nil || r.ledTest.Load() {
		return
	}
	state := statusled.Decide(
		r.sensorsSvc.Snapshot().Leak,
		r.nav.Report().FailureRatioPercent,
		r.cfg.LED.WarnFailurePercent,
		st.Explore,
	)
	// No mission fetched yet.
	if !r.planned && state == statusled.Awaiting {
		state = statusled.Calibrating
	}
	if err := r.led.Set(state); err != nil {
		log.Printf("status led set %s failed: %v", state, err)
	}
}

// onNavEvent journals every waypoint transition.
func (r *runtime) onNavEvent(ev nav.Event) {
	rec := store.DispatchEvent{
		PlanID: ev.PlanID,
		Seq:    ev.Seq,
		Kind:   string(ev.Kind),
		X:      ev.Waypoint.X,
		Y:      ev.Waypoint.Y,
		At:     ev.At,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
		log.Printf("nav %s seq=%d x=%.2f y=%.2f err=%q", ev.Kind, ev.Seq, rec.X, rec.Y, rec.Error)
	} else {
		log.Printf("nav %s seq=%d x=%.2f y=%.2f", ev.Kind, ev.Seq, rec.X, rec.Y)
	}
	if _, err := r.db.RecordDispatchEvent(rec); err != nil {
		log.Printf("dispatch journal write failed: %v", err)
	}
	if err := r.drainer.Enqueue(messaging.NewEnvelope("dispatch", ev.At, rec)); err != nil {
		log.Printf("messaging enqueue failed: %v", err)
	}
}

func (r *runtime) reportLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.Mission.UpdateInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.report(ctx, r.now())
		}
	}
}

// report posts the periodic status update and queues it for the broker.
func (r *runtime) report(ctx context.Context, now time.Time) {
	payload := r.reportPayload()
	if err := r.client.PostUpdate(ctx, payload); err != nil {
		n := r.postFailures.Add(1)
		if n == 1 || n%30 == 0 {
			log.Printf("status update failed failures=%d: %v", n, err)
		}
	} else {
		r.postFailures.Store(0)
	}
	if err := r.drainer.Enqueue(messaging.NewEnvelope("status", now, payload)); err != nil {
		log.Printf("messaging enqueue failed: %v", err)
	}
}

// reportPayload is safe from any goroutine.
func (r *runtime) reportPayload() map[string]any {
	ns := r.nav.Snapshot()
	st, _ := r.settingsV.Load().(mission.Settings)
	p := map[string]any{
		"failed_count":          ns.FailedCount,
		"total_planned":         ns.TotalPlanned,
		"failure_ratio_percent": ns.FailureRatioPercent,
		"next_x":                nil,
		"next_y":                nil,
	}
	if st.Explore && ns.NextX != nil && ns.NextY != nil {
		p["next_x"] = *ns.NextX
		p["next_y"] = *ns.NextY
	}

	if free, err := camera.FreeBytes(r.cfg.Camera.PhotoDir); err == nil {
		p["sMemory"] = int(free / (1 << 20))
	} else {
		p["sMemory"] = 0
	}
	p["sVoltage"] = 0.0
	if fr, ok := r.frame.Load().(link.StatusFrame); ok {
		if v, ok := floatField(fr, "batt"); ok {
			p["sVoltage"] = v
		}
	}
	ss := r.sensorsSvc.Snapshot()
	if ss.Leak {
		p["sDry"] = 0
	} else {
		p["sDry"] = 1
	}

	if fix := r.gpsSvc.Fix(); fix.Usable() {
		p["lat"] = fix.Lat
		p["lon"] = fix.Lon
		if fix.AltM != nil {
			p["alt"] = *fix.AltM
		}
	}
	if n, err := r.db.CountPending(); err == nil {
		p["photos_pending"] = n
	}
	return p
}

func floatField(fr link.StatusFrame, key string) (float64, bool) {
	switch v := fr.Fields[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// planView is the /api/plan document.
func (r *runtime) planView() web.PlanView {
	plan, _ := r.planV.Load().(coverage.Plan)
	ns := r.nav.Snapshot()
	v := web.PlanView{
		PlanID:       ns.PlanID,
		State:        ns.State,
		Cursor:       ns.Cursor,
		TotalPlanned: plan.TotalPlanned(),
		Waypoints:    make([][2]float64, 0, plan.Len()),
	}
	for _, wp := range plan.Waypoints() {
		v.Waypoints = append(v.Waypoints, [2]float64{wp.X, wp.Y})
	}
	return v
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	r.drainer.Stop()
	if r.msgClient != nil {
		r.msgClient.Close()
	}
	r.gpsSvc.Close()
	r.sensorsSvc.Close()
	if err := r.led.Close(); err != nil {
		log.Printf("status led close: %v", err)
	}
	_ = r.cam.Close()
	_ = r.mirror.Close()
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			log.Printf("link record close: %v", err)
		}
	}
	if r.transport.rw != nil {
		_ = r.transport.rw.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}
