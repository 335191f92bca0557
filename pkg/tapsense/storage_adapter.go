//go:build !js && !wasm
// +build !js,!wasm

package tapsense

import (
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
	"github.com/himanishpuri/TapSense/pkg/tapsense/storage"
	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
)

// ErrRunNotFound is returned by run lookups for an unknown ID.
var ErrRunNotFound = storage.ErrRunNotFound

// storageAdapter adapts storage.DBClient to the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveRun(run *Run) (string, error) {
	row := toStorageRun(run)
	id, err := s.db.CreateRun(row)
	if err != nil {
		return "", err
	}
	run.ID = id
	run.CreatedAt = row.CreatedAt
	return id, nil
}

func (s *storageAdapter) GetRun(id string) (*Run, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	run := fromStorageRun(row)
	return &run, nil
}

func (s *storageAdapter) ListRuns() ([]Run, error) {
	rows, err := s.db.ListRuns()
	if err != nil {
		return nil, err
	}
	runs := make([]Run, len(rows))
	for i := range rows {
		runs[i] = fromStorageRun(&rows[i])
	}
	return runs, nil
}

func (s *storageAdapter) DeleteRun(id string) error {
	return s.db.DeleteRun(id)
}

func (s *storageAdapter) CountEvents(runID string) (int64, error) {
	return s.db.CountEvents(runID)
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func toStorageRun(r *Run) *storage.Run {
	row := &storage.Run{
		Source:          r.Source,
		Mode:            r.Mode,
		SampleRate:      r.SampleRate,
		Channels:        r.Channels,
		Blocks:          r.Blocks,
		DurationMs:      r.DurationMs,
		Transients:      r.Transients,
		Singles:         r.Singles,
		Doubles:         r.Doubles,
		MaxFrameSize:    r.Detector.MaxFrameSize,
		ThresholdMin:    r.Detector.ThresholdMin,
		ThresholdMax:    r.Detector.ThresholdMax,
		CooldownBlocks:  r.Detector.CooldownBlocks,
		DoubleTapWindow: r.Detector.DoubleTapWindow,
		StartupHoldoff:  r.Detector.StartupHoldoffBlocks,
		Fusion:          r.Detector.Fusion.String(),
		Events:          make([]storage.TapEvent, len(r.Events)),
	}
	for i, e := range r.Events {
		row.Events[i] = storage.TapEvent{
			Kind:          e.Kind.String(),
			Block:         e.Block,
			FirstBlock:    e.FirstBlock,
			TimeMs:        e.TimeMs,
			FirstTimeMs:   e.FirstTimeMs,
			HighBandRatio: e.HighBandRatio,
			Flushed:       e.Flushed,
		}
	}
	return row
}

func fromStorageRun(row *storage.Run) Run {
	// Rows written by this package always carry valid names.
	fusion, _ := transient.ParseFusion(row.Fusion)
	run := Run{
		ID:         row.ID,
		Source:     row.Source,
		Mode:       row.Mode,
		SampleRate: row.SampleRate,
		Channels:   row.Channels,
		Blocks:     row.Blocks,
		DurationMs: row.DurationMs,
		Transients: row.Transients,
		Singles:    row.Singles,
		Doubles:    row.Doubles,
		Detector: DetectorConfig{
			MaxFrameSize:    row.MaxFrameSize,
			ThresholdMin:    row.ThresholdMin,
			ThresholdMax:    row.ThresholdMax,
			CooldownBlocks:  row.CooldownBlocks,
			DoubleTapWindow: row.DoubleTapWindow,
			Fusion:          fusion,

			StartupHoldoffBlocks: row.StartupHoldoff,
		},
		CreatedAt: row.CreatedAt,
	}
	if len(row.Events) > 0 {
		run.Events = make([]TapEvent, len(row.Events))
		for i, e := range row.Events {
			kind, _ := sequence.ParseResult(e.Kind)
			run.Events[i] = TapEvent{
				Kind:          kind,
				Block:         e.Block,
				FirstBlock:    e.FirstBlock,
				TimeMs:        e.TimeMs,
				FirstTimeMs:   e.FirstTimeMs,
				HighBandRatio: e.HighBandRatio,
				Flushed:       e.Flushed,
			}
		}
	}
	return run
}
