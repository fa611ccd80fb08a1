package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"subsurvey/internal/mission"
	"subsurvey/internal/statusled"
)

// Diagnostic commands give up after diagTimeout.
var diagTimeout = 5 * time.Second

// diagStep paces blink patterns and sample waits inside diagnostics.
var diagStep = 500 * time.Millisecond

func registerCommands(r *runtime) {
	c := r.commands
	c.Register("take_photo", r.cmdTakePhoto)
	c.Register("upload_images", r.cmdUploadImages)
	c.Register("gps_test", diagnostic(r.cmdGPSTest))
	c.Register("leakage_test", diagnostic(r.cmdLeakTest))
	c.Register("temperature_test", diagnostic(r.cmdTemperatureTest))
	c.Register("RGB_test", diagnostic(r.cmdRGBTest))
	c.Register("flash_test", diagnostic(r.cmdFlashTest))
	c.Register("flashlight", diagnostic(r.cmdFlashlight))
	c.Register("serial_test", diagnostic(r.cmdSerialTest))
}

// diagnostic bounds h by diagTimeout and reports an overrun as a timeout.
func diagnostic(h mission.Handler) mission.Handler {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, diagTimeout)
		defer cancel()
		msg, err := h(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout (%s)", diagTimeout)
		}
		return msg, err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *runtime) cmdTakePhoto(ctx context.Context) (string, error) {
	p, err := r.capturePhoto(ctx, r.now())
	if err != nil {
		log.Printf("take_photo failed: %v", err)
		return "", errors.New("camera error (no file)")
	}
	if r.uploader == nil || !r.client.Reachable(ctx) {
		return "photo taken (queued, offline)", nil
	}
	res, err := r.uploader.RunOnce(ctx)
	switch {
	case res.Skipped:
		return "photo taken (queued, offline)", nil
	case err != nil:
		log.Printf("take_photo upload failed photo=%s: %v", p.ID, err)
		return "photo taken (upload failed, queued)", nil
	default:
		return "photo taken + uploaded", nil
	}
}

func (r *runtime) cmdUploadImages(ctx context.Context) (string, error) {
	if r.uploader == nil {
		return "", errors.New("upload disabled")
	}
	if _, err := r.uploader.RunOnce(ctx); err != nil {
		log.Printf("upload_images: %v", err)
	}
	return "upload attempted", nil
}

func (r *runtime) cmdGPSTest(ctx context.Context) (string, error) {
	if r.gpsSvc == nil {
		return "", errors.New("gps disabled")
	}
	for {
		snap := r.gpsSvc.Snapshot()
		if fix := snap.Fix; fix.Usable() {
			return fmt.Sprintf("fix lat=%.6f lon=%.6f sats=%d", fix.Lat, fix.Lon, fix.Satellites), nil
		}
		if err := sleepCtx(ctx, diagStep); err != nil {
			if snap.LastError != "" {
				return "", fmt.Errorf("no fix: %s", snap.LastError)
			}
			return "", fmt.Errorf("no fix: %w", err)
		}
	}
}

func (r *runtime) cmdLeakTest(ctx context.Context) (string, error) {
	ss := r.sensorsSvc.Snapshot()
	if !ss.LeakEnabled {
		return "", errors.New("leak sensor disabled")
	}
	if ss.LastError != "" && !ss.Leak {
		return "", errors.New(ss.LastError)
	}
	if ss.Leak {
		return "leak detected", nil
	}
	return "dry", nil
}

func (r *runtime) cmdTemperatureTest(ctx context.Context) (string, error) {
	ss := r.sensorsSvc.Snapshot()
	var cpu string
	if ss.CPUTempC != nil {
		cpu = fmt.Sprintf(" cpu=%.1fC", *ss.CPUTempC)
	}
	if ss.Climate == nil {
		if !ss.ClimateEnabled {
			return "", fmt.Errorf("climate sensor disabled%s", cpu)
		}
		if ss.LastError != "" {
			return "", errors.New(ss.LastError)
		}
		return "", errors.New("no climate reading yet")
	}
	return fmt.Sprintf("temp=%.1fC humidity=%.0f%%%s", ss.Climate.TempC, ss.Climate.HumidityPct, cpu), nil
}

// cmdRGBTest shows red, green and blue in turn. The control loop leaves the
// LED alone meanwhile and restores the mission state afterwards.
func (r *runtime) cmdRGBTest(ctx context.Context) (string, error) {
	if r.led == nil {
		return "", errors.New("status led disabled")
	}
	r.ledTest.Store(true)
	defer r.ledTest.Store(false)
	for _, s := range []statusled.State{statusled.Warning, statusled.Deployed, statusled.Awaiting, statusled.Off} {
		if err := r.led.Set(s); err != nil {
			return "", err
		}
		if err := sleepCtx(ctx, diagStep); err != nil {
			return "", err
		}
	}
	return "ok", nil
}

func (r *runtime) cmdFlashTest(ctx context.Context) (string, error) {
	if r.cam == nil {
		return "", errors.New("camera disabled")
	}
	for i := 0; i < 4; i++ {
		if err := r.cam.PulseFlash(ctx, diagStep); err != nil {
			return "", err
		}
		if err := sleepCtx(ctx, diagStep); err != nil {
			return "", err
		}
	}
	return "ok", nil
}

func (r *runtime) cmdFlashlight(ctx context.Context) (string, error) {
	if r.cam == nil {
		return "", errors.New("camera disabled")
	}
	if err := r.cam.PulseFlash(ctx, 2*diagStep); err != nil {
		return "", err
	}
	return "ok", nil
}

// cmdSerialTest waits for the controller to send anything.
func (r *runtime) cmdSerialTest(ctx context.Context) (string, error) {
	start := r.codec.Snapshot().LinesRX
	for {
		snap := r.codec.Snapshot()
		if snap.LinesRX > start {
			return fmt.Sprintf("rx_lines=%d tx_lines=%d last=%q", snap.LinesRX, snap.LinesTX, snap.LastStatus), nil
		}
		if err := sleepCtx(ctx, diagStep/5); err != nil {
			return "", errors.New("no data from controller (check wiring / power)")
		}
	}
}
