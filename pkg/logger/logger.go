package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts level names case-insensitively. "WARNING" is an alias
// for WARN.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorGray    = "\033[90m"
)

// sink is shared between a logger and the children derived from it so
// that output changes and locking apply to the whole family.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

type Logger struct {
	sink       *sink
	level      LogLevel
	prefix     string
	colorize   bool
	showCaller bool
	showTime   bool
	timeFormat string
	exit       func(int)
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level      LogLevel
	Prefix     string
	Colorize   bool
	ShowCaller bool
	ShowTime   bool
	TimeFormat string
	Output     io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Colorize:   true,
		ShowTime:   true,
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stdout,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02 15:04:05"
	}

	return &Logger{
		sink:       &sink{out: cfg.Output},
		level:      cfg.Level,
		prefix:     cfg.Prefix,
		colorize:   cfg.Colorize,
		showCaller: cfg.ShowCaller,
		showTime:   cfg.ShowTime,
		timeFormat: cfg.TimeFormat,
		exit:       os.Exit,
	}
}

// GetLogger returns the process-wide logger. LOG_LEVEL sets its level and
// NO_COLOR disables colors.
func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
			if lvl, err := ParseLevel(envLevel); err == nil {
				cfg.Level = lvl
			}
		}
		if os.Getenv("NO_COLOR") != "" {
			cfg.Colorize = false
		}
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

// With returns a child logger that adds prefix after the parent's prefix.
// The child shares the parent's output; level changes on either do not
// propagate.
func (l *Logger) With(prefix string) *Logger {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	child := *l
	if child.prefix != "" {
		child.prefix = child.prefix + " " + prefix
	} else {
		child.prefix = prefix
	}
	return &child
}

func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
}

func (l *Logger) SetColorize(colorize bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.colorize = colorize
}

func (l *Logger) SetShowCaller(show bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.showCaller = show
}

func (l *Logger) levelTag(level LogLevel) string {
	tag := "[" + level.String() + "]"
	if !l.colorize {
		return tag
	}
	switch level {
	case DEBUG:
		return colorGray + tag + colorReset
	case INFO:
		return colorBlue + tag + colorReset
	case WARN:
		return colorYellow + tag + colorReset
	case ERROR:
		return colorRed + tag + colorReset
	case FATAL:
		return colorMagenta + tag + colorReset
	}
	return tag
}

func (l *Logger) formatMessage(level LogLevel, msg string, args ...any) string {
	var parts []string

	if l.showTime {
		parts = append(parts, time.Now().Format(l.timeFormat))
	}
	parts = append(parts, l.levelTag(level))

	if l.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			parts = append(parts, fmt.Sprintf("%s:%d", file, line))
		}
	}

	if l.prefix != "" {
		parts = append(parts, l.prefix)
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	parts = append(parts, msg)

	return strings.Join(parts, " ")
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.sink.mu.Lock()
	if level < l.level {
		l.sink.mu.Unlock()
		return
	}
	fmt.Fprintln(l.sink.out, l.formatMessage(level, msg, args...))
	l.sink.mu.Unlock()

	if level == FATAL {
		l.exit(1)
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(ERROR, msg, args...) }

// Fatal logs at FATAL level and exits the program.
func (l *Logger) Fatal(msg string, args ...any) { l.log(FATAL, msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.Debug(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Info(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Warn(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Error(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.Fatal(format, args...) }

// Package-level convenience functions using the default logger

func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }
func Info(msg string, args ...any)  { GetLogger().Info(msg, args...) }
func Warn(msg string, args ...any)  { GetLogger().Warn(msg, args...) }
func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }
func Fatal(msg string, args ...any) { GetLogger().Fatal(msg, args...) }

func Debugf(format string, args ...any) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...any)  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...any)  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...any) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...any) { GetLogger().Fatalf(format, args...) }

func SetLevel(level LogLevel)    { GetLogger().SetLevel(level) }
func SetOutput(w io.Writer)      { GetLogger().SetOutput(w) }
func SetColorize(colorize bool)  { GetLogger().SetColorize(colorize) }
func SetShowCaller(show bool)    { GetLogger().SetShowCaller(show) }
func With(prefix string) *Logger { return GetLogger().With(prefix) }
