package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/uball/court-agent/internal/catalog"
)

// Run statuses.
const (
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// Per-session upload states.
const (
	UploadPending   = "pending"
	UploadSkipped   = "skipped"
	UploadUploading = "uploading"
	UploadCompleted = "completed"
	UploadFailed    = "failed"
)

// Per-angle job states.
const (
	AngleSubmitted  = "submitted"
	AngleSucceeded  = "succeeded"
	AngleFailed     = "failed"
	AngleCorrupted  = "corrupted"
	AngleRegistered = "registered"
)

// SessionUpload is one session's ingest record in the run state.
type SessionUpload struct {
	SegmentSession string `json:"segment_session"`
	Angle          string `json:"angle"`
	Status         string `json:"status"`
	Chapters       int    `json:"chapters"`
	BytesUploaded  int64  `json:"bytes_uploaded"`
	S3Prefix       string `json:"s3_prefix,omitempty"`
	Error          string `json:"error,omitempty"`
}

// AngleJob is one encode job's record inside a game.
type AngleJob struct {
	JobID      string `json:"job_id,omitempty"`
	Status     string `json:"status"`
	OutputKey  string `json:"output_key,omitempty"`
	Error      string `json:"error,omitempty"`
	Registered bool   `json:"registered"`
}

// GameState is one game's processing record in the run state.
type GameState struct {
	GameNumber int                  `json:"game_number"`
	Status     string               `json:"status"`
	Angles     map[string]*AngleJob `json:"angles"`
}

// RunState is the persisted per-run document. Shape matches the state files
// the recovery tooling and UI already read.
type RunState struct {
	PipelineID        string                    `json:"pipeline_id"`
	JetsonID          string                    `json:"jetson_id"`
	Status            string                    `json:"status"`
	Progress          int                       `json:"progress"`
	CreatedAt         string                    `json:"created_at"`
	UpdatedAt         string                    `json:"updated_at"`
	SessionUploads    map[string]*SessionUpload `json:"session_uploads"`
	Games             map[string]*GameState     `json:"games"`
	TotalSessions     int                       `json:"total_sessions"`
	SessionsCompleted int                       `json:"sessions_completed"`
	SessionsSkipped   int                       `json:"sessions_skipped_unk"`
	TotalGames        int                       `json:"total_games"`
	GamesCompleted    int                       `json:"games_completed"`
	Errors            []string                  `json:"errors"`
}

// Tracker owns a run's state document: one mutex, every mutation followed by
// an atomic write so recovery and the UI always read consistent JSON.
type Tracker struct {
	mu    sync.Mutex
	state RunState
	path  string
}

// NewTracker creates the run document and persists its initial snapshot.
func NewTracker(stateDir, runID, jetsonID string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	now := catalog.FormatTimestamp(time.Now())
	t := &Tracker{
		path: filepath.Join(stateDir, runID+".json"),
		state: RunState{
			PipelineID:     runID,
			JetsonID:       jetsonID,
			Status:         StatusRunning,
			CreatedAt:      now,
			UpdatedAt:      now,
			SessionUploads: make(map[string]*SessionUpload),
			Games:          make(map[string]*GameState),
			Errors:         []string{},
		},
	}
	return t, t.persistLocked()
}

// LoadRunState reads a persisted run document, for status queries after a
// restart.
func LoadRunState(stateDir, runID string) (*RunState, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, runID+".json"))
	if err != nil {
		return nil, err
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse run state %s: %w", runID, err)
	}
	return &st, nil
}

// Mutate applies fn to the state under the lock, stamps updated_at, and
// persists. A persist failure is logged, not fatal: the in-memory state
// remains authoritative for the rest of the run.
func (t *Tracker) Mutate(fn func(*RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.state)
	t.state.UpdatedAt = catalog.FormatTimestamp(time.Now())
	if err := t.persistLocked(); err != nil {
		log.Warn("run state persist failed", "path", t.path, "error", err)
	}
}

// Snapshot returns a deep-enough copy for read-only reporting.
func (t *Tracker) Snapshot() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.state
	out.SessionUploads = make(map[string]*SessionUpload, len(t.state.SessionUploads))
	for k, v := range t.state.SessionUploads {
		c := *v
		out.SessionUploads[k] = &c
	}
	out.Games = make(map[string]*GameState, len(t.state.Games))
	for k, v := range t.state.Games {
		c := *v
		c.Angles = make(map[string]*AngleJob, len(v.Angles))
		for a, j := range v.Angles {
			cj := *j
			c.Angles[a] = &cj
		}
		out.Games[k] = &c
	}
	out.Errors = append([]string(nil), t.state.Errors...)
	return out
}

func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(&t.state, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(t.path, data, 0o644)
}
