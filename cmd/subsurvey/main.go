package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"subsurvey/internal/config"
	"subsurvey/internal/web"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./subsurvey.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded link log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLinkSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	logBuf := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	resolvedConfigPath := configPath
	if abs, err := filepath.Abs(configPath); err == nil {
		resolvedConfigPath = abs
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus()
	rt, err := newRuntime(ctx, cfg, status)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("subsurvey starting")
	log.Printf("link mode=%s device=%s backend=%s", rt.transport.mode, rt.transport.device, cfg.Mission.BaseURL)

	if cfg.Web.Enable {
		h := web.Handler(web.Options{
			Status: status,
			Logs:   logBuf,
			Plan:   rt.planView,
			Info:   web.BuildInfo{ConfigPath: resolvedConfigPath, BackendURL: cfg.Mission.BaseURL},
		})
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
		log.Printf("web listen=%s", cfg.Web.Listen)
	}

	if err := rt.Run(ctx); err != nil {
		log.Printf("runtime stopped: %v", err)
	}
	log.Printf("subsurvey stopping")
}
