//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/himanishpuri/TapSense/internal/config"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/utils"
)

var (
	port           int
	configPath     string
	dbPath         string
	tempDir        string
	sampleRate     int
	allowedOrigins string
)

func init() {
	flag.IntVar(&port, "port", utils.GetEnvIntOrDefault("TAPSENSE_PORT", 8080), "HTTP server port")
	flag.StringVar(&configPath, "config", utils.GetEnvOrDefault("TAPSENSE_CONFIG", ""), "YAML tuning file, reloaded on change")
	flag.StringVar(&dbPath, "db", utils.GetEnvOrDefault("TAPSENSE_DB_PATH", "tapsense.sqlite3"), "Path to SQLite database")
	flag.StringVar(&tempDir, "temp", utils.GetEnvOrDefault("TAPSENSE_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.IntVar(&sampleRate, "rate", tapsense.DefaultSampleRate, "Default stream sample rate and ffmpeg conversion rate")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func parseOrigins(s string) []string {
	if s == "*" {
		return []string{"*"}
	}
	origins := strings.Split(s, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var hot *config.HotConfig
	cfg := config.Default()
	if configPath != "" {
		var err error
		hot, err = config.NewHotConfig(configPath, log)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		c := *hot.Get()
		cfg = &c
	}

	// Flags given explicitly win over the file
	if set["db"] || configPath == "" {
		cfg.Storage.DBPath = dbPath
	}
	if set["temp"] || configPath == "" {
		cfg.Audio.TempDir = tempDir
	}
	if set["rate"] {
		cfg.Audio.SampleRate = sampleRate
	}
	if set["port"] || cfg.Server.Port == 0 {
		cfg.Server.Port = port
	}
	origins := cfg.Server.AllowedOrigins
	if set["origins"] || len(origins) == 0 {
		origins = parseOrigins(allowedOrigins)
	}
	applyLogLevel(cfg.LogLevel)

	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	service, err := tapsense.NewService(append(opts, tapsense.WithLogger(log))...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	if hot != nil {
		hot.OnReload(func(c *config.Config) {
			applyLogLevel(c.LogLevel)
			if dc, err := c.DetectorConfig(); err == nil {
				log.Infof("Detector tuning for new analyses: band=[%g, %g] cooldown=%d window=%d fusion=%s",
					dc.ThresholdMin, dc.ThresholdMax, dc.CooldownBlocks, dc.DoubleTapWindow, dc.Fusion)
			}
		})
		if err := hot.Watch(); err != nil {
			log.Warnf("Config hot reload disabled: %v", err)
		}
		defer hot.Close()
	}

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Server.Port,
		DBPath:         cfg.Storage.DBPath,
		TempDir:        cfg.Audio.TempDir,
		SampleRate:     cfg.Audio.SampleRate,
		AllowedOrigins: origins,
		MaxUploadMB:    cfg.Server.MaxUploadMB,
	}, hot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}

func applyLogLevel(name string) {
	if name == "" || os.Getenv("LOG_LEVEL") != "" {
		return
	}
	level, err := logger.ParseLevel(name)
	if err != nil {
		logger.Warnf("Ignoring log_level: %v", err)
		return
	}
	logger.SetLevel(level)
}
