package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/himanishpuri/TapSense/internal/config"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/utils"
)

// Global flags
var (
	configPath string
	dbPath     string
	tempDir    string
	sampleRate int
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&configPath, "config", utils.GetEnvOrDefault("TAPSENSE_CONFIG", ""), "Path to a YAML tuning file")
	flag.StringVar(&dbPath, "db", utils.GetEnvOrDefault("TAPSENSE_DB_PATH", "tapsense.sqlite3"), "Path to the SQLite database file")
	flag.StringVar(&tempDir, "temp", utils.GetEnvOrDefault("TAPSENSE_TEMP_DIR", os.TempDir()), "Directory for temporary audio conversion files")
	flag.IntVar(&sampleRate, "rate", tapsense.DefaultSampleRate, "Sample rate non-WAV input is converted to")
	flag.Usage = printUsage
}

// loadConfig reads the tuning file and lets explicitly set global flags
// override it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["db"] || configPath == "" {
		cfg.Storage.DBPath = dbPath
	}
	if set["temp"] || configPath == "" {
		cfg.Audio.TempDir = tempDir
	}
	if set["rate"] {
		cfg.Audio.SampleRate = sampleRate
	}
	if cfg.LogLevel != "" {
		if level, err := logger.ParseLevel(cfg.LogLevel); err == nil && os.Getenv("LOG_LEVEL") == "" {
			logger.SetLevel(level)
		}
	}
	return cfg, cfg.Validate()
}

// createService creates a TapSense service from the config file and global
// flags, followed by any per-command overrides.
func createService(cfg *config.Config, extra ...tapsense.Option) (tapsense.Service, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, tapsense.WithLogger(logger.GetLogger()))
	return tapsense.NewService(append(opts, extra...)...)
}

func main() {
	flag.Parse()

	// Initialize logger
	log := logger.GetLogger()

	if flag.NArg() < 1 {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Debugf("Executing command: %s", command)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		log.Errorf("Config load failed: %v", err)
		os.Exit(1)
	}

	switch command {
	case "detect":
		handleDetect(cfg, args)
	case "inspect":
		handleInspect(cfg, args)
	case "spectrogram":
		handleSpectrogram(cfg, args)
	case "runs":
		handleRuns(cfg)
	case "show":
		handleShow(cfg, args)
	case "delete":
		handleDelete(cfg, args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
 _____           ____
|_   _|_ _ _ __ / ___|  ___ _ __  ___  ___
  | |/ _' | '_ \\___ \ / _ \ '_ \/ __|/ _ \
  | | (_| | |_) |___) |  __/ | | \__ \  __/
  |_|\__,_| .__/|____/ \___|_| |_|___/\___|
          |_|
        Acoustic Tap Detection CLI Tool
`
	fmt.Println(banner)
}

func printUsage() {
	fmt.Println("TapSense - Acoustic Tap Detection CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  -config <path>     YAML tuning file (env: TAPSENSE_CONFIG)")
	fmt.Println("  -db <path>         Path to SQLite database (env: TAPSENSE_DB_PATH, default: tapsense.sqlite3)")
	fmt.Println("  -temp <dir>        Temporary directory for audio conversion (env: TAPSENSE_TEMP_DIR)")
	fmt.Println("  -rate <hz>         Sample rate non-WAV input is converted to (default: 48000)")
	fmt.Println("\nUsage:")
	fmt.Println("  tapsense [global-options] detect [detect-options] <audio_file>...")
	fmt.Println("  tapsense [global-options] inspect <audio_file>")
	fmt.Println("  tapsense [global-options] spectrogram [-o out.png] [-log] <audio_file>")
	fmt.Println("  tapsense [global-options] runs")
	fmt.Println("  tapsense [global-options] show <run_id>")
	fmt.Println("  tapsense [global-options] delete <run_id>")
	fmt.Println("\nDetect Options:")
	fmt.Println("  -o <path>          Write an indicator WAV (single file only)")
	fmt.Println("  -presence          Report transients only, without tap classification")
	fmt.Println("  -save              Store the run in the database")
	fmt.Println("  -tmin, -tmax <f>   Peak threshold band as a fraction of full scale")
	fmt.Println("  -cooldown <n>      Cooldown in blocks after a transient")
	fmt.Println("  -window <n>        Double-tap window in blocks")
	fmt.Println("  -window-ms <ms>    Double-tap window in milliseconds")
	fmt.Println("  -fusion <name>     Channel fusion: average, primary, secondary")
	fmt.Println("\nExamples:")
	fmt.Println("  # Classify taps in a stereo recording and write an indicator track")
	fmt.Println("  tapsense detect -o knock_indicator.wav knock.wav")
	fmt.Println()
	fmt.Println("  # Analyse a folder of recordings with a wider window and keep the results")
	fmt.Println("  tapsense -db taps.sqlite3 detect -save -window-ms 700 recordings/*.wav")
	fmt.Println()
	fmt.Println("  # Render a spectrogram with tap markers")
	fmt.Println("  tapsense spectrogram -o knock.png knock.m4a")
}
