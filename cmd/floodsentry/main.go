package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"floodsentry/detect/adminauth"
	"floodsentry/detect/attacklog"
	"floodsentry/detect/compression"
	"floodsentry/detect/config"
	"floodsentry/detect/engine"
	"floodsentry/detect/health"
	"floodsentry/detect/http3"
	"floodsentry/detect/logging"
	"floodsentry/detect/mitigate"
	"floodsentry/detect/reload"
	"floodsentry/detect/simulate"
	"floodsentry/handlers"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "v1.2.0"

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults apply when empty)")
	strict := flag.Bool("strict", false, "use the aggressive protection profile")
	demo := flag.String("demo", "", "feed synthetic traffic: baseline, flooding, pulsing or distributed")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *strict {
		cfg = config.StrictConfig()
	}
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("Could not load config: %v", err)
		}
		cfg = loaded
	}

	// operational log rotation - keeps logs from eating disk space
	if cfg.Logging.Enabled && cfg.Logging.Filename != "" {
		log.SetOutput(logging.Tee(logging.Setup(cfg.Logging)))
	}
	log.Printf("FloodSentry %s starting", version)

	alog := attacklog.New(attacklog.Config{
		Enabled:      cfg.Logging.Enabled,
		Path:         cfg.Logging.AttackLog,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		LogToConsole: cfg.Logging.LogToConsole,
	})
	defer alog.Close()

	eng := engine.New(cfg, alog)
	mit := mitigate.New(cfg, eng.Queue(), eng, alog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)
	go mit.Run(ctx)

	// hot-reload setup so policy tuning doesn't need a restart
	var reloadMgr *reload.Manager
	if *configPath != "" {
		var err error
		reloadMgr, err = reload.NewManager(reload.Config{
			ConfigPath:   *configPath,
			DebounceTime: 2 * time.Second,
			WatchEnabled: true,
		}, eng, mit)
		if err != nil {
			log.Printf("Warning: Could not initialize hot-reload system - %v (configuration changes will require restart)", err)
		}
		defer func() {
			if reloadMgr != nil {
				_ = reloadMgr.Stop()
			}
		}()
	}

	// catch SIGHUP for manual config reload
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		for range sigChan {
			if reloadMgr == nil {
				log.Println("Received SIGHUP but no config file is in use")
				continue
			}
			log.Println("Received SIGHUP signal, reloading configuration...")
			if err := reloadMgr.Reload("sighup"); err != nil {
				log.Printf("Configuration reload failed: %v", err)
			}
		}
	}()

	guard, err := adminauth.New(adminauth.Config{
		Enabled: cfg.Server.AdminJWTSecret != "",
		Secret:  cfg.Server.AdminJWTSecret,
	})
	if err != nil {
		log.Fatalf("Admin auth setup failed: %v", err)
	}

	api := handlers.New(eng, mit, guard)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.Handler(version))
	mux.HandleFunc("/reload", guard.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST requests are accepted for configuration reload", http.StatusMethodNotAllowed)
			return
		}
		if reloadMgr == nil {
			http.Error(w, "Hot-reload system is not available", http.StatusInternalServerError)
			return
		}
		log.Println("Configuration reload requested via /reload endpoint")
		w.Header().Set("Content-Type", "application/json")
		if err := reloadMgr.Reload("http"); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	comp := compression.NewHandler(compression.Config{Enabled: cfg.Server.CompressionOn})
	rootHandler := comp.Handle(mux)

	// optional HTTP/3 listener alongside TCP
	h3 := http3.NewServer(http3.Config{
		Enabled:      cfg.Server.HTTP3Enabled,
		Addr:         cfg.Server.HTTP3Addr,
		CertFile:     cfg.Server.HTTP3CertFile,
		KeyFile:      cfg.Server.HTTP3KeyFile,
		AltSvcHeader: true,
	})
	if err := h3.Start(rootHandler); err != nil {
		log.Printf("Warning: HTTP/3 listener failed to start - %v (continuing with TCP only)", err)
	}
	defer func() { _ = h3.Stop(context.Background()) }()

	if *demo != "" {
		go runDemo(ctx, eng, simulate.Profile(*demo))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           rootHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Control plane listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// runDemo feeds one synthetic traffic stream per second into the engine so
// the dashboard endpoints have something to show.
func runDemo(ctx context.Context, eng *engine.Engine, profile simulate.Profile) {
	log.Printf("Demo mode: generating %q traffic", profile)
	gen := simulate.NewGenerator(time.Now().UnixNano(), 7)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range gen.Stream(profile, now.Add(-time.Second), time.Second) {
				eng.Ingest(ev.Source, ev.At)
			}
		}
	}
}
