//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorInvalidConfig
	ErrorProcessing
)

// Runs a fresh detector over interleaved float samples in [-1, 1].
// Args: samples, sampleRate, channels, [options]
// Returns: {error: number, data: object | string}
func detectTaps(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected at least 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array, Float32Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	cfg := tapsense.DefaultDetectorConfig()
	presence := false
	if len(args) > 3 && args[3].Type() == js.TypeObject {
		var err error
		presence, err = applyOptions(&cfg, args[3])
		if err != nil {
			return makeErrorResponse(ErrorInvalidConfig, err.Error())
		}
	}
	det, err := tapsense.NewDetector(cfg)
	if err != nil {
		return makeErrorResponse(ErrorInvalidConfig, err.Error())
	}

	length := audioDataJS.Length()
	frames := length / channels
	if frames < 2 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray holds fewer than 2 frames")
	}

	primary := make([]fixed.Q, frames)
	secondary := primary
	if channels == 2 {
		secondary = make([]fixed.Q, frames)
	}
	for i := 0; i < frames; i++ {
		val := audioDataJS.Index(i * channels)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i*channels))
		}
		primary[i] = fixed.FromFloat(val.Float())
		if channels == 2 {
			secondary[i] = fixed.FromFloat(audioDataJS.Index(i*2 + 1).Float())
		}
	}

	frame := cfg.MaxFrameSize
	events := js.Global().Get("Array").New()
	transients := js.Global().Get("Array").New()
	blocks := 0

	for off := 0; frames-off >= 2; off += frame {
		n := min(frame, frames-off)
		p, s := primary[off:off+n], secondary[off:off+n]
		if err := det.CheckBlock(p, s, n); err != nil {
			return makeErrorResponse(ErrorProcessing, fmt.Sprintf("block at frame %d: %v", off, err))
		}
		blocks++

		if presence {
			if out := det.StepTransient(p, s, n); out.Transient {
				transients.Call("push", blockTimeMs(out.Block, sampleRate, frame))
			}
			continue
		}

		out := det.Step(p, s, n)
		if out.Transient {
			transients.Call("push", blockTimeMs(out.Block, sampleRate, frame))
		}
		if out.Result != tapsense.None {
			events.Call("push", makeEvent(out.Result, out.Block, out.GestureStart, sampleRate, frame, false))
		}
	}

	// A tap still inside its window when the audio ends is reported as single
	if st := det.State(); !presence && st.Sequence.Phase == sequence.WaitingForSecond {
		events.Call("push", makeEvent(tapsense.Single, st.Blocks, st.Sequence.FirstTapBlock, sampleRate, frame, true))
	}

	data := js.Global().Get("Object").New()
	data.Set("blocks", blocks)
	data.Set("blockMs", float64(frame)*1000/float64(sampleRate))
	data.Set("transientsMs", transients)
	data.Set("events", events)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

// applyOptions reads {presence, thresholdMin, thresholdMax, cooldown,
// window, frameSize, holdoff, fusion} from a JS object.
func applyOptions(cfg *tapsense.DetectorConfig, opts js.Value) (bool, error) {
	number := func(key string, set func(float64)) {
		if v := opts.Get(key); v.Type() == js.TypeNumber {
			set(v.Float())
		}
	}
	number("thresholdMin", func(f float64) { cfg.ThresholdMin = f })
	number("thresholdMax", func(f float64) { cfg.ThresholdMax = f })
	number("cooldown", func(f float64) { cfg.CooldownBlocks = int(f) })
	number("window", func(f float64) { cfg.DoubleTapWindow = int(f) })
	number("frameSize", func(f float64) { cfg.MaxFrameSize = int(f) })
	number("holdoff", func(f float64) { cfg.StartupHoldoffBlocks = int(f) })

	if v := opts.Get("fusion"); v.Type() == js.TypeString {
		fu, err := transient.ParseFusion(v.String())
		if err != nil {
			return false, err
		}
		cfg.Fusion = fu
	}

	presence := false
	if v := opts.Get("presence"); v.Type() == js.TypeBoolean {
		presence = v.Bool()
	}
	return presence, cfg.Validate()
}

func blockTimeMs(block uint32, sampleRate, frame int) int {
	return int(tapsense.BlockStartMs(block, sampleRate, frame))
}

func makeEvent(kind tapsense.Result, block, first uint32, sampleRate, frame int, flushed bool) js.Value {
	ev := js.Global().Get("Object").New()
	ev.Set("kind", kind.String())
	ev.Set("block", int(block))
	ev.Set("firstBlock", int(first))
	ev.Set("timeMs", blockTimeMs(block, sampleRate, frame))
	ev.Set("firstTimeMs", blockTimeMs(first, sampleRate, frame))
	ev.Set("flushed", flushed)
	return ev
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	if !console.IsUndefined() {
		console.Call("log", "🔧 TapSense WASM module initializing...")
	}

	done := make(chan struct{})

	js.Global().Set("detectTaps", js.FuncOf(detectTaps))

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("warn", "window object is undefined, wasmReady not dispatched")
	}

	if !console.IsUndefined() {
		console.Call("log", "✅ TapSense WASM module loaded and ready")
	}

	<-done
}
