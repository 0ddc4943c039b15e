package model

import (
	"time"
)

// FileResult summarises the ingestion of a single capture file
type FileResult struct {
	Path      string `json:"path"`
	Rows      int    `json:"rows"`
	Malformed int    `json:"malformed"`
	Error     string `json:"error,omitempty"`
}

// IngestReport summarises one ingestion run over a directory
type IngestReport struct {
	RunID     string       `json:"run_id"`
	Files     []FileResult `json:"files"`
	TotalRows int          `json:"total_rows"`
	Failed    int          `json:"failed"`
}

// IngestEvent is published after a capture file has been loaded
type IngestEvent struct {
	RunID      string    `json:"run_id"`
	File       string    `json:"file"`
	Market     string    `json:"market"`
	Timeframe  string    `json:"timeframe"`
	Rows       int       `json:"rows"`
	Symbols    []string  `json:"symbols"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IngestRequest asks for a single file or a whole directory to be ingested
type IngestRequest struct {
	FileName  string `json:"file_name"`
	Directory string `json:"directory"`
}
