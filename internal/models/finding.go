package models

import "time"

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the value is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Finding is durable evidence that an OBSERVE step's success criteria
// matched. Findings are persisted as they are discovered and never mutated.
type Finding struct {
	ID                   string    `json:"id"`
	Observation          string    `json:"observation"`
	Severity             Severity  `json:"severity"`
	EvidenceSummary      string    `json:"evidence_summary"`
	TargetURL            string    `json:"target_url"`
	DiscoveredAt         time.Time `json:"discovered_at"`
	ObservationEmbedding []float32 `json:"observation_embedding,omitempty"`
}

// RepairRecord is one row of repair history: which step failed, what
// replaced it, and whether the repaired graph has succeeded since.
type RepairRecord struct {
	FailedStep  string `json:"failed_step"`
	RepairStep  string `json:"repair_step"`
	FailureType string `json:"failure_type"`
	Success     bool   `json:"success"`
}
