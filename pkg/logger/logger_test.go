package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newBufferLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Config{Level: level, Output: &buf})
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WARN)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Expected DEBUG and INFO to be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") {
		t.Errorf("Expected WARN line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("Expected ERROR line, got:\n%s", out)
	}
}

func TestErrorIsDistinctFromWarn(t *testing.T) {
	l, buf := newBufferLogger(ERROR)
	l.Warn("dropped")
	l.Error("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Error("Expected WARN to be below ERROR")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("Expected ERROR line to be written")
	}
}

func TestWithPrefix(t *testing.T) {
	l, buf := newBufferLogger(DEBUG)
	child := l.With("[stream]").With("client=1")
	child.Infof("opened")

	if !strings.Contains(buf.String(), "[INFO] [stream] client=1 opened") {
		t.Errorf("Expected nested prefix, got %q", buf.String())
	}

	buf.Reset()
	l.Info("parent")
	if strings.Contains(buf.String(), "[stream]") {
		t.Errorf("Expected parent prefix to be unchanged, got %q", buf.String())
	}
}

func TestWithSharesOutput(t *testing.T) {
	l, _ := newBufferLogger(INFO)
	child := l.With("child")

	var other bytes.Buffer
	l.SetOutput(&other)
	child.Info("moved")
	if !strings.Contains(other.String(), "moved") {
		t.Error("Expected child to follow the parent's output")
	}
}

func TestFatalExits(t *testing.T) {
	l, buf := newBufferLogger(INFO)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatalf("boom %s", "now")
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(buf.String(), "[FATAL] boom now") {
		t.Errorf("Expected fatal line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"fatal", FATAL, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("Expected error=%v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
