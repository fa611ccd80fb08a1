package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"subsurvey/internal/link"
	"subsurvey/internal/replay"
)

type linkSummary struct {
	Segments    int
	RX          int
	TX          int
	Status      int
	Gotos       int
	States      int
	MaxDuration time.Duration
	NavCounts   map[link.NavState]int
}

func summarizeLinkLog(records []replay.Record) linkSummary {
	s := linkSummary{NavCounts: map[link.NavState]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasLines := false
	segments := 0

	for _, r := range records {
		if r.IsStart() {
			segments++
			origin = r.At
			continue
		}
		hasLines = true

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		switch r.Dir {
		case link.RX:
			s.RX++
			if fr, ok := link.ParseStatus(r.Line); ok {
				s.Status++
				if fr.HasNav() {
					s.NavCounts[fr.Nav]++
				}
			}
		case link.TX:
			s.TX++
			switch tag, _, _ := strings.Cut(r.Line, ","); tag {
			case link.TagGoto:
				s.Gotos++
			case link.TagState:
				s.States++
			}
		}
	}
	if segments == 0 && hasLines {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printLinkSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}

	s := summarizeLinkLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "rx_lines: %d\n", s.RX)
	fmt.Fprintf(w, "tx_lines: %d\n", s.TX)
	fmt.Fprintf(w, "status_frames: %d\n", s.Status)
	fmt.Fprintf(w, "gotos: %d\n", s.Gotos)
	fmt.Fprintf(w, "state_reports: %d\n", s.States)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	keys := make([]string, 0, len(s.NavCounts))
	for k := range s.NavCounts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "nav_state_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.NavCounts[link.NavState(k)])
	}
	return nil
}
