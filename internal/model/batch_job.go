package model

import (
	"time"
)

// Batch job states reported by the historical data provider
const (
	JobStateReceived   = "received"
	JobStateQueued     = "queued"
	JobStateProcessing = "processing"
	JobStateDone       = "done"
	JobStateExpired    = "expired"
)

// BatchJobRequest describes a server-side extraction request
type BatchJobRequest struct {
	Dataset       string    `json:"dataset" validate:"required"`
	Symbols       string    `json:"symbols" validate:"required"`
	Schema        string    `json:"schema" validate:"required"`
	StypeIn       string    `json:"stype_in" validate:"required"`
	SplitDuration string    `json:"split_duration" validate:"required,oneof=day week month none"`
	Start         time.Time `json:"start" validate:"required"`
	End           time.Time `json:"end" validate:"required,gtfield=Start"`
}

// BatchJob is the provider's descriptor of a submitted job
type BatchJob struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	Dataset       string     `json:"dataset"`
	Symbols       any        `json:"symbols,omitempty"`
	Schema        string     `json:"schema"`
	StypeIn       string     `json:"stype_in"`
	SplitDuration string     `json:"split_duration"`
	Start         string     `json:"start"`
	End           string     `json:"end"`
	RecordCount   *int64     `json:"record_count,omitempty"`
	TsReceived    *time.Time `json:"ts_received,omitempty"`
	TsProcessDone *time.Time `json:"ts_process_done,omitempty"`
	TsExpiration  *time.Time `json:"ts_expiration,omitempty"`
}

// BatchFile is one output file of a completed job
type BatchFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	URL      string `json:"-"`
}

// RetrievalRequest is the user-facing shape of a historical retrieval
type RetrievalRequest struct {
	Symbol string    `json:"symbol" binding:"required"`
	Start  time.Time `json:"start" binding:"required"`
	End    time.Time `json:"end" binding:"required"`
}
