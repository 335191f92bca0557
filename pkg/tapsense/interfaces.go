package tapsense

import (
	"context"

	"github.com/himanishpuri/TapSense/pkg/tapsense/audio"
)

type Service interface {
	AnalyzeFile(ctx context.Context, path string, opts AnalyzeOptions) (*Analysis, error)
	AnalyzeStream(stream *audio.Stream, source string, opts AnalyzeOptions) (*Analysis, error)
	GetRun(id string) (*Run, error)
	ListRuns() ([]Run, error)
	DeleteRun(id string) error
	DetectorConfig() DetectorConfig
	Close() error
}

type Storage interface {
	SaveRun(run *Run) (string, error)
	GetRun(id string) (*Run, error)
	ListRuns() ([]Run, error)
	DeleteRun(id string) error
	CountEvents(runID string) (int64, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
