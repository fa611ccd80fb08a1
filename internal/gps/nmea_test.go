package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	ggaPayload = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	rmcPayload = "GNRMC,123519,A,4807.038,N,01131.000,W,022.4,084.4,230394,003.1,W"
)

func TestParseSentence_ChecksumOK(t *testing.T) {
	s, err := parseSentence(nmeaLine(rmcPayload))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Kind != "RMC" {
		t.Fatalf("kind=%q want RMC", s.Kind)
	}
}

func TestParseSentence_Rejects(t *testing.T) {
	good := nmeaLine(ggaPayload)
	cases := map[string]string{
		"mismatch":   good[:len(good)-2] + "00",
		"nochecksum": "$" + ggaPayload,
		"nodollar":   good[1:],
		"badhex":     good[:len(good)-2] + "ZZ",
	}
	for name, line := range cases {
		if _, err := parseSentence(line); err == nil {
			t.Fatalf("%s: expected error for %q", name, line)
		}
	}
}

func TestTracker_GGAGivesAltitude(t *testing.T) {
	var tr tracker
	s, err := parseSentence(nmeaLine(ggaPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !tr.apply(now, s) {
		t.Fatalf("expected update")
	}
	fix := tr.fix()
	if !fix.Valid {
		t.Fatalf("expected valid fix")
	}
	if math.Abs(fix.Lat-48.1173) > 1e-6 || math.Abs(fix.Lon-(11+31.0/60)) > 1e-6 {
		t.Fatalf("lat=%v lon=%v", fix.Lat, fix.Lon)
	}
	if fix.AltM == nil || *fix.AltM != 545.4 {
		t.Fatalf("alt=%v want 545.4", fix.AltM)
	}
	if fix.HeadingDeg != nil {
		t.Fatalf("GGA should not set heading")
	}
	if fix.Satellites != 8 || fix.Quality != 1 {
		t.Fatalf("sats=%d quality=%d", fix.Satellites, fix.Quality)
	}
}

func TestTracker_RMCGivesHeadingAndWestLongitude(t *testing.T) {
	var tr tracker
	s, _ := parseSentence(nmeaLine(rmcPayload))
	if !tr.apply(time.Now(), s) {
		t.Fatalf("expected update")
	}
	fix := tr.fix()
	if fix.HeadingDeg == nil || *fix.HeadingDeg != 84.4 {
		t.Fatalf("heading=%v want 84.4", fix.HeadingDeg)
	}
	if fix.Lon >= 0 {
		t.Fatalf("lon=%v want negative", fix.Lon)
	}
}

func TestTracker_IgnoresNoFix(t *testing.T) {
	var tr tracker
	gga, _ := parseSentence(nmeaLine("GPGGA,123519,,,,,0,00,,,M,,M,,"))
	rmc, _ := parseSentence(nmeaLine("GPRMC,123519,V,,,,,,,230394,,"))
	if tr.apply(time.Now(), gga) || tr.apply(time.Now(), rmc) {
		t.Fatalf("expected no update")
	}
	if tr.fix().Valid {
		t.Fatalf("expected invalid fix")
	}
}

func TestDegrees(t *testing.T) {
	cases := []struct {
		v, hemi string
		want    float64
		ok      bool
	}{
		{"4807.038", "N", 48.1173, true},
		{"3352.000", "S", -33.866666666, true},
		{"00030.000", "W", -0.5, true},
		{"12", "N", 0, false},
		{"4807.038", "X", 0, false},
		{"4875.000", "N", 0, false},
	}
	for _, tc := range cases {
		got, ok := degrees(tc.v, tc.hemi)
		if ok != tc.ok || (ok && math.Abs(got-tc.want) > 1e-6) {
			t.Fatalf("degrees(%q,%q)=%v,%v want %v,%v", tc.v, tc.hemi, got, ok, tc.want, tc.ok)
		}
	}
}
