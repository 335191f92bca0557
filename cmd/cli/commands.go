package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/TapSense/internal/config"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/tapsense/analysis"
	"github.com/himanishpuri/TapSense/pkg/tapsense/audio"
	"github.com/himanishpuri/TapSense/pkg/tapsense/render"
	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
	"github.com/himanishpuri/TapSense/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const analyzeTimeout = 5 * time.Minute

func fail(format string, err error) {
	fmt.Printf("❌ "+format+": %v\n", err)
	logger.Errorf(format+": %v", err)
	os.Exit(1)
}

func handleDetect(cfg *config.Config, args []string) {
	log := logger.GetLogger()

	detectCmd := flag.NewFlagSet("detect", flag.ExitOnError)
	output := detectCmd.String("o", "", "Indicator WAV output path (single file only)")
	presence := detectCmd.Bool("presence", false, "Report transients only")
	save := detectCmd.Bool("save", false, "Store the run in the database")
	tmin := detectCmd.Float64("tmin", 0, "Lower peak threshold (fraction of full scale)")
	tmax := detectCmd.Float64("tmax", 0, "Upper peak threshold (fraction of full scale)")
	cooldown := detectCmd.Int("cooldown", 0, "Cooldown in blocks")
	window := detectCmd.Int("window", 0, "Double-tap window in blocks")
	windowMs := detectCmd.Int("window-ms", 0, "Double-tap window in milliseconds")
	fusion := detectCmd.String("fusion", "", "Channel fusion: average, primary, secondary")
	holdoff := detectCmd.Int("holdoff", 0, "Blocks ignored at the start of each file")
	detectCmd.Parse(args)

	files := detectCmd.Args()
	if len(files) == 0 {
		fmt.Println("Usage: tapsense detect [options] <audio_file>...")
		os.Exit(1)
	}
	if *output != "" && len(files) > 1 {
		fmt.Println("Error: -o can only be used with a single input file")
		os.Exit(1)
	}

	dc, err := cfg.DetectorConfig()
	if err != nil {
		fail("Invalid detector config", err)
	}
	detectCmd.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tmin":
			dc.ThresholdMin = *tmin
		case "tmax":
			dc.ThresholdMax = *tmax
		case "cooldown":
			dc.CooldownBlocks = *cooldown
		case "window":
			dc.DoubleTapWindow = *window
		case "holdoff":
			dc.StartupHoldoffBlocks = *holdoff
		case "window-ms":
			dc.DoubleTapWindow = tapsense.BlocksForDuration(time.Duration(*windowMs)*time.Millisecond, cfg.Audio.SampleRate, dc.MaxFrameSize)
		case "fusion":
			fu, ferr := transient.ParseFusion(*fusion)
			if ferr != nil {
				fail("Invalid -fusion", ferr)
			}
			dc.Fusion = fu
		}
	})
	if err := dc.Validate(); err != nil {
		fail("Invalid detector tuning", err)
	}

	var extra []tapsense.Option
	if !*save {
		// Nothing is persisted, so skip opening the database.
		extra = append(extra, tapsense.WithDBPath(""))
	}
	svc, err := createService(cfg, extra...)
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	opts := tapsense.AnalyzeOptions{
		Detector:      &dc,
		Presence:      *presence,
		IndicatorPath: *output,
		Frames:        len(files) == 1,
		Persist:       *save,
	}

	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	if len(files) == 1 {
		fmt.Println("🔍 Analyzing audio file...")
		res, err := svc.AnalyzeFile(ctx, files[0], opts)
		if err != nil {
			fail("Detection failed", err)
		}
		printFrames(res)
		printSummary(files[0], res)
		if *output != "" {
			fmt.Printf("   Indicator: %s\n", *output)
		}
		return
	}

	fmt.Printf("🔍 Analyzing %d files...\n", len(files))
	results := make([]*tapsense.Analysis, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range files {
		g.Go(func() error {
			res, err := svc.AnalyzeFile(gctx, path, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail("Detection failed", err)
	}

	for i, res := range results {
		printSummary(files[i], res)
	}
	log.Infof("Analyzed %d files", len(files))
}

func printFrames(res *tapsense.Analysis) {
	fmt.Println()
	fmt.Printf("%8s | %14s | %s\n", "Frame", "Start Time (s)", "Result")
	fmt.Println("---------+----------------+---------")
	for _, f := range res.Frames {
		if !f.Transient && f.Result == tapsense.None {
			continue
		}
		label := f.Result.String()
		if f.Result == tapsense.None {
			label = fmt.Sprintf("transient (%d peaks)", f.Peaks)
		}
		fmt.Printf("%8d | %14.3f | %s\n", f.Index, f.StartSec, label)
	}
}

func printSummary(path string, res *tapsense.Analysis) {
	fmt.Printf("\n✅ %s (%s, %d Hz, %d ch, %s)\n",
		filepath.Base(path),
		humanize.Bytes(uint64(utils.FileSize(path))),
		res.SampleRate, res.Channels,
		time.Duration(res.DurationMs)*time.Millisecond)
	fmt.Printf("   Blocks: %s | Transients: %s", humanize.Comma(int64(res.Blocks)), humanize.Comma(int64(res.Transients)))
	if res.Mode == tapsense.ModeSequence {
		fmt.Printf(" | Single: %d | Double: %d", res.Singles, res.Doubles)
	}
	fmt.Println()
	for _, ev := range res.Events {
		printEvent(ev)
	}
	if res.ID != "" {
		fmt.Printf("   Run ID: %s\n", res.ID)
	}
}

func printEvent(ev tapsense.TapEvent) {
	flushed := ""
	if ev.Flushed {
		flushed = " (end of stream)"
	}
	fmt.Printf("   • %-6s at %7.3fs (block %d, first tap block %d, high band %.0f%%)%s\n",
		ev.Kind, float64(ev.FirstTimeMs)/1000, ev.Block, ev.FirstBlock, ev.HighBandRatio*100, flushed)
}

func handleInspect(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: tapsense inspect <audio_file>")
		os.Exit(1)
	}
	path := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	stream, err := audio.Load(ctx, path, cfg.Audio.TempDir, cfg.Audio.SampleRate)
	if err != nil {
		fail("Failed to load audio", err)
	}

	svc, err := createService(cfg, tapsense.WithDBPath(""))
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	res, err := svc.AnalyzeStream(stream, filepath.Base(path), tapsense.AnalyzeOptions{Frames: true})
	if err != nil {
		fail("Detection failed", err)
	}

	frame := svc.DetectorConfig().MaxFrameSize
	fmt.Printf("\n%8s | %10s | %5s | %10s | %9s | %s\n", "Frame", "Start (s)", "Peaks", "High band", "Peak (Hz)", "Result")
	fmt.Println("---------+------------+-------+------------+-----------+--------")
	for _, f := range res.Frames {
		if !f.Transient {
			continue
		}
		off := f.Index * frame
		end := min(off+frame, stream.Frames)
		p, s := stream.Primary[off:end], stream.Secondary[off:end]
		fmt.Printf("%8d | %10.3f | %5d | %9.1f%% | %9.0f | %s\n",
			f.Index, f.StartSec, f.Peaks,
			analysis.HighBandRatio(p, s)*100,
			analysis.PeakFrequency(p, s, stream.SampleRate),
			f.Result)
	}
	printSummary(path, res)
}

func handleSpectrogram(cfg *config.Config, args []string) {
	specCmd := flag.NewFlagSet("spectrogram", flag.ExitOnError)
	output := specCmd.String("o", "", "Output PNG path (default: <input>_taps.png)")
	log10 := specCmd.Bool("log", false, "Log-scale magnitudes")
	width := specCmd.Int("width", render.DefaultOptions().Width, "Image width in pixels")
	height := specCmd.Int("height", render.DefaultOptions().Height, "Image height in pixels")
	specCmd.Parse(args)

	if specCmd.NArg() < 1 {
		fmt.Println("Usage: tapsense spectrogram [-o out.png] <audio_file>")
		os.Exit(1)
	}
	path := specCmd.Arg(0)
	if *output == "" {
		*output = utils.SiblingPath(path, "_taps", ".png")
	}

	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	stream, err := audio.Load(ctx, path, cfg.Audio.TempDir, cfg.Audio.SampleRate)
	if err != nil {
		fail("Failed to load audio", err)
	}
	svc, err := createService(cfg, tapsense.WithDBPath(""))
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	res, err := svc.AnalyzeStream(stream, filepath.Base(path), tapsense.AnalyzeOptions{})
	if err != nil {
		fail("Detection failed", err)
	}

	var markers []render.Marker
	for _, ev := range res.Events {
		markers = append(markers, render.Marker{TimeSec: float64(ev.FirstTimeMs) / 1000, Kind: ev.Kind})
		if ev.Kind == tapsense.Double {
			markers = append(markers, render.Marker{TimeSec: float64(ev.TimeMs) / 1000, Kind: ev.Kind})
		}
	}

	fmt.Println("🎨 Rendering spectrogram...")
	opts := render.Options{Width: *width, Height: *height, Log10: *log10}
	if err := render.Spectrogram(stream.Float64Mono(), stream.SampleRate, markers, *output, opts); err != nil {
		fail("Failed to render spectrogram", err)
	}
	fmt.Printf("✅ Wrote %s (%s, %d markers)\n", *output, humanize.Bytes(uint64(utils.FileSize(*output))), len(markers))
}

func handleRuns(cfg *config.Config) {
	svc, err := createService(cfg)
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	runs, err := svc.ListRuns()
	if err != nil {
		fail("Failed to list runs", err)
	}
	if len(runs) == 0 {
		fmt.Println("\n📭 No runs in database")
		return
	}

	fmt.Printf("\n📚 Found %d run(s):\n\n", len(runs))
	for i, run := range runs {
		fmt.Printf("%d. %s (%s mode) %s\n", i+1, run.Source, run.Mode, humanize.Time(run.CreatedAt))
		fmt.Printf("   ID: %s\n", run.ID)
		fmt.Printf("   Transients: %d | Single: %d | Double: %d | Duration: %s\n",
			run.Transients, run.Singles, run.Doubles, time.Duration(run.DurationMs)*time.Millisecond)
		fmt.Println()
	}
}

func handleShow(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: tapsense show <run_id>")
		os.Exit(1)
	}
	svc, err := createService(cfg)
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	run, err := svc.GetRun(args[0])
	if err != nil {
		fail("Run not found", err)
	}

	d := run.Detector
	fmt.Printf("\n📄 %s (%s mode, stored %s)\n", run.Source, run.Mode, humanize.Time(run.CreatedAt))
	fmt.Printf("   ID:       %s\n", run.ID)
	fmt.Printf("   Audio:    %d Hz, %d ch, %s blocks\n", run.SampleRate, run.Channels, humanize.Comma(int64(run.Blocks)))
	fmt.Printf("   Detector: frame=%d band=[%g, %g] cooldown=%d window=%d fusion=%s\n",
		d.MaxFrameSize, d.ThresholdMin, d.ThresholdMax, d.CooldownBlocks, d.DoubleTapWindow, d.Fusion)
	fmt.Printf("   Transients: %d | Single: %d | Double: %d\n", run.Transients, run.Singles, run.Doubles)
	for _, ev := range run.Events {
		printEvent(ev)
	}
}

func handleDelete(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: tapsense delete <run_id>")
		os.Exit(1)
	}
	svc, err := createService(cfg)
	if err != nil {
		fail("Failed to create service", err)
	}
	defer svc.Close()

	run, err := svc.GetRun(args[0])
	if err != nil {
		fail("Run not found", err)
	}
	if err := svc.DeleteRun(run.ID); err != nil {
		fail("Failed to delete run", err)
	}

	fmt.Printf("\n✅ Successfully deleted run:\n")
	fmt.Printf("   ID:     %s\n", run.ID)
	fmt.Printf("   Source: %s\n", run.Source)
	logger.Infof("Deleted run %s (%s)", run.ID, run.Source)
}
