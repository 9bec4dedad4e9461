package core

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/kairos-watch/capture/pkg/diff"
	"github.com/kairos-watch/capture/pkg/signal"
	"github.com/kairos-watch/capture/pkg/value"
)

// RunStatus is the outcome recorded on a Run.
type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusBlocked RunStatus = "blocked"
)

// Run is an immutable record of one executed capture. Runs of a target are
// ordered by StartedAt.
type Run struct {
	ID                  string    `gorm:"primaryKey;size:36"`
	TargetID            string    `gorm:"index:idx_runs_target_started,priority:1;size:36;not null"`
	JobID               string    `gorm:"index;size:36"`
	WorkerID            string    `gorm:"size:255"`
	Status              RunStatus `gorm:"size:20;not null"`
	StartedAt           time.Time `gorm:"index:idx_runs_target_started,priority:2;not null"`
	FinishedAt          *time.Time
	FinalURL            string `gorm:"type:text"`
	ContentHash         string `gorm:"size:64;index"`
	RawExtracted        datatypes.JSON
	NormalizedExtracted datatypes.JSON // NULL for blocked runs
	ChangedFromRunID    *string        `gorm:"size:36"`
	ChangeSummary       datatypes.JSON // set only when ContentHash differs from the predecessor
	Notes               string         `gorm:"type:text"`
	Artifacts           []Artifact     `gorm:"foreignKey:RunID"`
	CreatedAt           time.Time      `gorm:"autoCreateTime"`
}

// Normalized decodes the normalized payload. A run without one yields the
// absent value.
func (r *Run) Normalized() (value.Value, error) {
	v, err := value.Parse(r.NormalizedExtracted)
	if err != nil {
		return value.Value{}, fmt.Errorf("run %s: normalized payload: %w", r.ID, err)
	}
	return v, nil
}

// Artifact is a binary capture (e.g. a screenshot) stored in the blob store.
type Artifact struct {
	ID          string `gorm:"primaryKey;size:36"`
	RunID       string `gorm:"index;size:36;not null"`
	Kind        string `gorm:"size:64;not null"`
	StorageKey  string `gorm:"type:text;not null"`
	ContentHash string `gorm:"size:64"`
	ContentType string `gorm:"size:128"`
	SizeBytes   int64
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// ChangeSummary is persisted on a Run whose fingerprint differs from its
// predecessor: the structural diff of the normalized payloads plus the
// signal-level summary.
type ChangeSummary struct {
	Changes []diff.Change   `json:"changes"`
	Signal  *signal.Summary `json:"signal,omitempty"`
}

// EncodeChangeSummary marshals a ChangeSummary for storage on a Run.
func EncodeChangeSummary(cs ChangeSummary) (datatypes.JSON, error) {
	if cs.Changes == nil {
		cs.Changes = []diff.Change{}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encode change summary: %w", err)
	}
	return datatypes.JSON(b), nil
}

// DecodeChangeSummary reads the change summary of a run. ok is false when the
// run carries none.
func (r *Run) DecodeChangeSummary() (cs ChangeSummary, ok bool, err error) {
	if len(r.ChangeSummary) == 0 {
		return ChangeSummary{}, false, nil
	}
	if err := json.Unmarshal(r.ChangeSummary, &cs); err != nil {
		return ChangeSummary{}, false, fmt.Errorf("run %s: change summary: %w", r.ID, err)
	}
	return cs, true, nil
}
