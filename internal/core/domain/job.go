package domain

import "time"

type PhaseCounts struct {
	Queued        int `json:"queued"`
	QuickScanning int `json:"quick_scanning"`
	Completed     int `json:"completed"`
	Errored       int `json:"errored"`
}

func CountPhases(docs []Document) PhaseCounts {
	var out PhaseCounts
	for _, doc := range docs {
		switch doc.Scan.Phase {
		case PhaseQueued:
			out.Queued++
		case PhaseQuickScanning:
			out.QuickScanning++
		case PhaseCompleted:
			out.Completed++
		case PhaseError:
			out.Errored++
		}
	}
	return out
}

// ScanJob summarizes the aggregate state of the quick-scan pipeline.
type ScanJob struct {
	IsRunning          bool          `json:"is_running"`
	TotalAdmitted      int           `json:"total_admitted"`
	TotalProcessed     int           `json:"total_processed"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	Batches            int           `json:"batches"`
	Phases             PhaseCounts   `json:"phases"`
}

// Snapshot is the full observable state delivered to subscribers.
type Snapshot struct {
	Seq        uint64     `json:"seq"`
	Reason     string     `json:"reason"`
	Epoch      uint64     `json:"epoch"`
	Documents  []Document `json:"documents"`
	Job        ScanJob    `json:"job"`
	Filter     Filter     `json:"filter"`
	SelectedID string     `json:"selected_id,omitempty"`
	TakenAt    time.Time  `json:"taken_at"`
}
