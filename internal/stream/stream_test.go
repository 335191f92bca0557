package stream

import (
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/himanishpuri/TapSense/internal/testsignal"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
)

const frame = tapsense.DefaultMaxFrameSize

func pcmBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func newSession(t *testing.T, channels int, presence bool) *Session {
	t.Helper()
	s, err := NewSession(Options{
		Detector:   tapsense.DefaultDetectorConfig(),
		SampleRate: tapsense.DefaultSampleRate,
		Channels:   channels,
		Presence:   presence,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func collect(msgs *[]Message) func(Message) {
	return func(m Message) { *msgs = append(*msgs, m) }
}

func TestSessionChunking(t *testing.T) {
	data := pcmBytes(testsignal.PCM16(140, frame, 2, 1, 60))
	want := []Message{{
		Type:       TypeTap,
		Result:     tapsense.Double,
		Block:      60,
		FirstBlock: 1,
		TimeMs:     0,
	}}

	// Chunk sizes that split frames and samples at odd offsets.
	for _, chunk := range []int{len(data), 4096, 1000, 7, 3} {
		t.Run(strconv.Itoa(chunk), func(t *testing.T) {
			s := newSession(t, 2, false)
			var got []Message
			for off := 0; off < len(data); off += chunk {
				end := min(off+chunk, len(data))
				if err := s.Feed(data[off:end], collect(&got)); err != nil {
					t.Fatalf("Feed failed: %v", err)
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
			if s.Summary().Blocks != 140 {
				t.Errorf("Expected 140 blocks, got %d", s.Summary().Blocks)
			}
		})
	}
}

func TestSessionMonoSingle(t *testing.T) {
	s := newSession(t, 1, false)
	var got []Message
	if err := s.Feed(pcmBytes(testsignal.PCM16(140, frame, 1, 10)), collect(&got)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	wantMs := tapsense.BlockStartMs(10, tapsense.DefaultSampleRate, frame)
	want := []Message{{Type: TypeTap, Result: tapsense.Single, Block: 141, FirstBlock: 10, TimeMs: wantMs}}
	// The window lapses at block 141.
	if len(got) != 0 {
		t.Fatalf("Expected no result before the window lapses, got %+v", got)
	}
	if err := s.Feed(pcmBytes(testsignal.PCM16(1, frame, 1)), collect(&got)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionPresence(t *testing.T) {
	s := newSession(t, 2, true)
	var got []Message
	if err := s.Feed(pcmBytes(testsignal.PCM16(100, frame, 2, 5, 20, 50)), collect(&got)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	// Block 20 falls inside the cooldown that follows block 5.
	var blocks []uint32
	for _, m := range got {
		if m.Type != TypeTransient {
			t.Errorf("Expected transient message, got %+v", m)
		}
		blocks = append(blocks, m.Block)
	}
	if diff := cmp.Diff([]uint32{5, 50}, blocks); diff != "" {
		t.Errorf("transient blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionFlushAndReset(t *testing.T) {
	s := newSession(t, 2, true)
	var got []Message

	// Half a block with a tap at sample 1, then one stray byte.
	half := pcmBytes(testsignal.PCM16(1, frame, 2, 1))[:frame*2]
	if err := s.Feed(append(half, 0x01), collect(&got)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no message for a partial block, got %+v", got)
	}
	if err := s.Flush(collect(&got)); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(got) != 1 || got[0].Block != 1 {
		t.Fatalf("Expected a transient in the flushed block, got %+v", got)
	}

	s.Reset()
	if sum := s.Summary(); sum.Blocks != 0 || sum.Taps != 0 {
		t.Errorf("Expected a clean summary after reset, got %+v", sum)
	}
	if err := s.Flush(collect(&got)); err != nil {
		t.Fatalf("Flush of empty session failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected empty flush to be a no-op, got %+v", got)
	}
}

func TestNewSessionRejects(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"three channels", Options{Detector: tapsense.DefaultDetectorConfig(), SampleRate: 48000, Channels: 3}},
		{"zero rate", Options{Detector: tapsense.DefaultDetectorConfig(), Channels: 2}},
		{"bad detector", Options{Detector: tapsense.DetectorConfig{MaxFrameSize: 1}, SampleRate: 48000, Channels: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.test", true},
		{"http://localhost:3000", true},
		{"https://app.tapsense.dev", true},
		{"https://evil.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.test/api/stream", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originAllowed(r, []string{"https://app.tapsense.dev/"}); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.New(logger.Config{Output: io.Discard})
	h := NewHandler(tapsense.DefaultDetectorConfig, tapsense.DefaultSampleRate, nil, log)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return m
}

func TestHandlerDoubleTap(t *testing.T) {
	conn := dial(t, newTestServer(t), "channels=2&rate=48000")

	hello := readMessage(t, conn)
	if hello.Type != TypeHello || hello.Config == nil {
		t.Fatalf("Expected hello with config, got %+v", hello)
	}
	if hello.Config.DoubleTapWindow != tapsense.DefaultDoubleTapWindow {
		t.Errorf("Expected default window, got %d", hello.Config.DoubleTapWindow)
	}

	data := pcmBytes(testsignal.PCM16(80, frame, 2, 1, 60))
	for off := 0; off < len(data); off += 8192 {
		end := min(off+8192, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}

	tap := readMessage(t, conn)
	if tap.Type != TypeTap || tap.Result != tapsense.Double || tap.Block != 60 || tap.FirstBlock != 1 {
		t.Errorf("Expected double tap at block 60, got %+v", tap)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("flush")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	sum := readMessage(t, conn)
	if sum.Type != TypeSummary || sum.Blocks != 80 || sum.Taps != 1 {
		t.Errorf("Expected summary of 80 blocks and 1 tap, got %+v", sum)
	}
}

func TestHandlerUnknownCommand(t *testing.T) {
	conn := dial(t, newTestServer(t), "channels=1")
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("rewind")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	m := readMessage(t, conn)
	if m.Type != TypeError || !strings.Contains(m.Error, "rewind") {
		t.Errorf("Expected error message, got %+v", m)
	}
}

func TestHandlerBadQuery(t *testing.T) {
	srv := newTestServer(t)
	for _, q := range []string{"channels=4", "rate=-1", "presence=maybe"} {
		t.Run(q, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + q
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("Expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400 response, got %v", resp)
			}
		})
	}
}
