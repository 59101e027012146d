package models

import (
	"context"
	"time"
)

// Pipeline stage names, used in logs, metrics and the outcome ledger.
const (
	StageCapture  = "capture"
	StageClassify = "classify"
	StageExtract  = "extract"
	StageRender   = "render"
)

// Outcome statuses recorded per post and stage.
const (
	StatusSaved    = "saved"
	StatusSkipped  = "skipped"
	StatusEvent    = "event"
	StatusNotEvent = "not_event"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
)

// StageOutcome is one post reaching a terminal state in one stage during a run.
type StageOutcome struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Handle    string    `json:"handle"`
	ShortCode string    `json:"shortcode"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeRecorder persists stage outcomes outside the datastore.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome StageOutcome) error
}
