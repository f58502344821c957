// Package state persists the position of a merge so that it can be resumed
// after a crash or interrupt. The state lives in <workdir>/framemerge.json
// and is rewritten atomically after every committed batch.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/fsx"
)

// FileName is the name of the state file inside the work directory.
const FileName = "framemerge.json"

// Version is the current state file format.
const Version = 1

var (
	// ErrNotFound is returned by Load when the work directory has no state.
	ErrNotFound = errors.New("no saved merge state")
	// ErrExists is returned by Create when a state file is already present.
	ErrExists = errors.New("merge state already exists")
)

// Duration is a time.Duration stored as its string form ("1m0s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Batch records one committed batch.
type Batch struct {
	Start       int       `json:"start"`
	End         int       `json:"end"`
	OutputBytes int64     `json:"output_bytes"`
	CommittedAt time.Time `json:"committed_at"`
}

// State is the persisted position of a merge.
type State struct {
	Version      int    `json:"version"`
	RunID        string `json:"run_id"`
	SourcePath   string `json:"source_path"`
	SourceDigest string `json:"source_digest"`
	OutputPath   string `json:"output_path"`
	WorkDir      string `json:"work_dir"`

	StartIndex      int                   `json:"start_index"`
	LastMergedIndex int                   `json:"last_merged_index"`
	BatchSize       int                   `json:"batch_size"`
	PollInterval    Duration              `json:"poll_interval"`
	TotalFrames     int                   `json:"total_frames"`
	FramePattern    string                `json:"frame_pattern"`
	FrameRate       string                `json:"frame_rate"`
	VFR             bool                  `json:"vfr,omitempty"`
	Encoder         config.EncoderProfile `json:"encoder"`

	Batches   []Batch   `json:"batches,omitempty"`
	Finalized bool      `json:"finalized,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Path returns the state file path for workDir.
func Path(workDir string) string {
	return filepath.Join(workDir, FileName)
}

// New returns the initial state of a fresh merge described by cfg. Nothing
// is merged yet: LastMergedIndex is one before StartIndex.
func New(cfg *config.Config) *State {
	now := time.Now().UTC()
	return &State{
		Version:         Version,
		RunID:           uuid.NewString(),
		SourcePath:      cfg.InputPath,
		OutputPath:      cfg.OutputPath,
		WorkDir:         cfg.WorkDir,
		StartIndex:      cfg.StartIndex,
		LastMergedIndex: cfg.StartIndex - 1,
		BatchSize:       cfg.BatchSize,
		PollInterval:    Duration(cfg.PollInterval),
		TotalFrames:     cfg.TotalFrames,
		FramePattern:    cfg.FramePattern,
		Encoder:         cfg.Encoder,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Create writes s as a new state file. It fails with ErrExists when the work
// directory already holds one.
func Create(s *State) error {
	if _, err := os.Stat(Path(s.WorkDir)); err == nil {
		return fmt.Errorf("%s: %w", Path(s.WorkDir), ErrExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat state: %w", err)
	}
	return s.Save()
}

// Load reads and validates the state file in workDir.
func Load(workDir string) (*State, error) {
	data, err := os.ReadFile(Path(workDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", Path(workDir), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", Path(workDir), err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("state %s: %w", Path(workDir), err)
	}
	return &s, nil
}

// Save atomically rewrites the state file.
func (s *State) Save() error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')
	if err := fsx.WriteFileAtomic(s.WorkDir, FileName, data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Validate checks the invariants a loaded state must satisfy.
func (s *State) Validate() error {
	switch {
	case s.Version != Version:
		return fmt.Errorf("unsupported state version %d", s.Version)
	case s.SourcePath == "" || s.OutputPath == "" || s.WorkDir == "":
		return errors.New("state is missing a path")
	case s.StartIndex < 0:
		return fmt.Errorf("invalid start index %d", s.StartIndex)
	case s.BatchSize <= 0:
		return fmt.Errorf("invalid batch size %d", s.BatchSize)
	case s.LastMergedIndex < s.StartIndex-1:
		return fmt.Errorf("last merged index %d is before start index %d", s.LastMergedIndex, s.StartIndex)
	case s.TotalFrames > 0 && s.LastMergedIndex > s.FinalIndex():
		return fmt.Errorf("last merged index %d is past the final frame %d", s.LastMergedIndex, s.FinalIndex())
	}
	return nil
}

// NextIndex is the index of the next frame to merge.
func (s *State) NextIndex() int { return s.LastMergedIndex + 1 }

// Merged is the number of frames in the output.
func (s *State) Merged() int { return s.LastMergedIndex - s.StartIndex + 1 }

// FinalIndex is the index of the last expected frame, or -1 when the total
// is unknown.
func (s *State) FinalIndex() int {
	if s.TotalFrames <= 0 {
		return -1
	}
	return s.StartIndex + s.TotalFrames - 1
}

// Complete reports whether every expected frame has been merged.
func (s *State) Complete() bool {
	return s.TotalFrames > 0 && s.LastMergedIndex >= s.FinalIndex()
}

// Advance records the committed range [start, end]. It does not save.
func (s *State) Advance(start, end int, outputBytes int64) error {
	if start != s.NextIndex() || end < start {
		return fmt.Errorf("batch %d-%d does not continue from %d", start, end, s.LastMergedIndex)
	}
	s.LastMergedIndex = end
	s.Batches = append(s.Batches, Batch{
		Start:       start,
		End:         end,
		OutputBytes: outputBytes,
		CommittedAt: time.Now().UTC(),
	})
	return nil
}
