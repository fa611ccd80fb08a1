package web

import (
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

// BuildInfo describes how this unit is configured, for /api/about.
type BuildInfo struct {
	ConfigPath string `json:"config_path,omitempty"`
	BackendURL string `json:"backend_url,omitempty"`
}

type AboutResponse struct {
	BuildInfo
	Service    string `json:"service"`
	Hostname   string `json:"hostname,omitempty"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	GOARCH     string `json:"goarch"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

func aboutResponse(info BuildInfo) AboutResponse {
	resp := AboutResponse{
		BuildInfo: info,
		Service:   "subsurvey",
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		GOARCH:    runtime.GOARCH,
	}
	if h, err := os.Hostname(); err == nil {
		resp.Hostname = h
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.ModulePath = bi.Main.Path
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			case "vcs.time":
				resp.BuildTime = s.Value
			}
		}
	}
	return resp
}

func (a *api) about(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, aboutResponse(a.info))
}
