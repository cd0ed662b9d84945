package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/elementastro/orrery"
	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/sequencer"
)

// yamlConfig is the on-disk subset of orrery.Config the CLI accepts,
// mirroring how the teacher's CLI decodes a minimal JSON config and
// layers it over engine.Defaults().
type yamlConfig struct {
	CameraDeviceID       string `yaml:"camera_device_id"`
	StoreDirectory       string `yaml:"store_directory"`
	TemplateDirectory    string `yaml:"template_directory"`
	DefaultGlobalTimeout string `yaml:"default_global_timeout"`
	EnableMetrics        *bool  `yaml:"enable_metrics"`
	EnableHealth         *bool  `yaml:"enable_health"`
	MetricsBackend       string `yaml:"metrics_backend"`
}

func applyYAMLConfig(base orrery.Config, yc *yamlConfig) orrery.Config {
	if yc == nil {
		return base
	}
	if yc.CameraDeviceID != "" {
		base.Camera.DeviceID = yc.CameraDeviceID
	}
	if yc.StoreDirectory != "" {
		base.Store.Directory = yc.StoreDirectory
	}
	if yc.TemplateDirectory != "" {
		base.TemplateDirectory = yc.TemplateDirectory
	}
	if yc.DefaultGlobalTimeout != "" {
		if d, err := time.ParseDuration(yc.DefaultGlobalTimeout); err == nil {
			base.DefaultGlobalTimeout = d
		}
	}
	if yc.EnableMetrics != nil {
		base.Telemetry.EnableMetrics = *yc.EnableMetrics
	}
	if yc.EnableHealth != nil {
		base.Telemetry.EnableHealth = *yc.EnableHealth
	}
	if yc.MetricsBackend != "" {
		base.Telemetry.MetricsBackend = yc.MetricsBackend
	}
	return base
}

func main() {
	var (
		configPath     string
		sequencePath   string
		templateName   string
		templateArgs   string
		validateOnly   bool
		simulate       bool
		snapshotEvery  time.Duration
		metricsAddr    string
		healthAddr     string
		showVersion    bool
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&sequencePath, "sequence", "", "Path to a sequence JSON document to load and run")
	flag.StringVar(&templateName, "template", "", "Name of a registered sequence template to instantiate instead of -sequence")
	flag.StringVar(&templateArgs, "template-args", "", "Comma-separated name=value pairs for -template parameters")
	flag.BoolVar(&validateOnly, "validate", false, "Validate -sequence and exit without running it")
	flag.BoolVar(&simulate, "simulate", true, "Run against the built-in simulated camera driver rather than real hardware")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 5*time.Second, "Interval between progress snapshots (0=disabled)")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.Parse()

	if showVersion {
		fmt.Println("orrery CLI - sequence orchestration engine")
		return
	}

	if sequencePath == "" && templateName == "" {
		fmt.Println("No sequence provided. Use -sequence <file> or -template <name>.")
		os.Exit(1)
	}

	if validateOnly {
		if sequencePath == "" {
			log.Fatalf("-validate requires -sequence")
		}
		if err := orrery.ValidateSequenceFile(sequencePath); err != nil {
			log.Fatalf("invalid sequence: %v", err)
		}
		fmt.Println("sequence document is valid")
		return
	}

	cfg := orrery.Defaults()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			log.Fatalf("open config: %v", err)
		}
		var yc yamlConfig
		if err := yaml.NewDecoder(f).Decode(&yc); err != nil {
			log.Fatalf("decode config: %v", err)
		}
		_ = f.Close()
		cfg = applyYAMLConfig(cfg, &yc)
	}

	var driver hardware.Driver
	if !simulate {
		log.Fatalf("no real hardware driver registered; rerun with -simulate")
	}

	sm, err := orrery.New(cfg, driver)
	if err != nil {
		log.Fatalf("create sequence manager: %v", err)
	}
	defer func() { _ = sm.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if cfg.TemplateDirectory != "" {
		go watchTemplateDirectory(ctx, sm, cfg.TemplateDirectory)
	}

	if err := sm.Camera().Start(ctx); err != nil {
		log.Fatalf("start camera: %v", err)
	}
	defer func() { _ = sm.Camera().Stop(context.Background()) }()

	seq, err := loadSequence(sm, sequencePath, templateName, templateArgs)
	if err != nil {
		log.Fatalf("load sequence: %v", err)
	}

	if metricsAddr != "" && cfg.Telemetry.EnableMetrics {
		go serveMetrics(ctx, metricsAddr, cfg.Telemetry.MetricsBackend, sm)
	}
	if healthAddr != "" {
		go serveHealth(ctx, healthAddr, sm)
	}

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
	}
	done := make(chan struct{})
	go func() {
		if ticker == nil {
			return
		}
		for {
			select {
			case <-ticker.C:
				b, _ := json.MarshalIndent(sm.Camera().Snapshot(), "", "  ")
				fmt.Fprintf(os.Stderr, "\n=== CAMERA SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
			case <-done:
				return
			}
		}
	}()

	result, err := sm.ExecuteSequence(ctx, seq, false)
	close(done)
	if err != nil {
		log.Fatalf("execute sequence: %v", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintf(os.Stdout, "%s\n", string(b))
	if !result.Success {
		os.Exit(1)
	}
}

func loadSequence(sm *orrery.SequenceManager, sequencePath, templateName, templateArgs string) (*sequencer.Sequencer, error) {
	if templateName != "" {
		return sm.CreateSequenceFromTemplate(templateName, parseTemplateArgs(templateArgs))
	}
	return sm.LoadSequenceFromFile(sequencePath, true)
}

func parseTemplateArgs(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func watchTemplateDirectory(ctx context.Context, sm *orrery.SequenceManager, dir string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("template watcher: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		log.Printf("template watcher: watch %s: %v", dir, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			n, err := sm.LoadTemplatesFromDirectory(dir)
			if err != nil {
				log.Printf("reload templates: %v", err)
				continue
			}
			log.Printf("reloaded %d sequence templates from %s", n, dir)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("template watcher error: %v", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr, backend string, sm *orrery.SequenceManager) {
	mux := http.NewServeMux()
	if handler, ok := sm.MetricsHandler(); ok {
		mux.Handle("/metrics", handler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("# HELP orrery_build_info build info\n# TYPE orrery_build_info gauge\norrery_build_info 1\n"))
		})
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Printf("metrics listening on %s (backend=%s)", addr, backend)
	_ = srv.ListenAndServe()
}

func serveHealth(ctx context.Context, addr string, sm *orrery.SequenceManager) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		hs := sm.HealthSnapshot(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    hs.Overall,
			"probes":    hs.Probes,
			"generated": hs.Generated,
			"ttl":       hs.TTL.Seconds(),
		})
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Printf("health endpoint listening on %s", addr)
	_ = srv.ListenAndServe()
}
