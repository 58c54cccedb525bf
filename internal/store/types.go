package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/mayflydoe/internal/strategy"
)

// Record is a persisted design: the problem it was generated for and the
// champion of the run batch.
type Record struct {
	// ID is the job or run identifier.
	ID string `json:"id"`

	// CreatedAt records when the design was generated.
	CreatedAt time.Time `json:"createdAt"`

	// Config is the complete problem, so the record can be regenerated.
	Config strategy.Config `json:"config"`

	// NExperiments is the number of new rows that were requested.
	NExperiments int `json:"nExperiments"`

	// Candidates are the new experiments, labeled.
	Candidates strategy.Table `json:"candidates"`

	// Design is the full champion design in column encoding, fixed rows first.
	Design [][]float64 `json:"design"`

	Value     float64       `json:"value"`
	Values    []float64     `json:"values"`
	Champion  int           `json:"champion"`
	Converged bool          `json:"converged"`
	Elapsed   time.Duration `json:"elapsed"`
}

// RecordInfo is the listing view of a record.
type RecordInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	NExperiments int       `json:"nExperiments"`
	Criterion    string    `json:"criterion"`
	Strategy     string    `json:"strategy"`
	Value        float64   `json:"value"`
	Converged    bool      `json:"converged"`
}

// NewRecord converts a proposal into a persistable record.
func NewRecord(id string, cfg strategy.Config, n int, p *strategy.Proposal, elapsed time.Duration) *Record {
	return &Record{
		ID:           id,
		CreatedAt:    time.Now(),
		Config:       cfg,
		NExperiments: n,
		Candidates:   p.Candidates,
		Design:       p.Design.RowSlices(),
		Value:        p.Value,
		Values:       append([]float64(nil), p.Values...),
		Champion:     p.Champion,
		Converged:    p.Converged,
		Elapsed:      elapsed,
	}
}

// ToInfo returns the metadata of r.
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		NExperiments: r.NExperiments,
		Criterion:    r.Config.Criterion,
		Strategy:     string(r.Config.Options.Strategy),
		Value:        r.Value,
		Converged:    r.Converged,
	}
}

// Validate checks that the record is complete and self-consistent.
func (r *Record) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if r.NExperiments <= 0 {
		return &ValidationError{Field: "NExperiments", Reason: "must be positive"}
	}
	if r.Candidates.Len() != r.NExperiments {
		return &ValidationError{
			Field:  "Candidates",
			Reason: fmt.Sprintf("has %d rows, expected %d", r.Candidates.Len(), r.NExperiments),
		}
	}
	if len(r.Design) < r.NExperiments {
		return &ValidationError{Field: "Design", Reason: "has fewer rows than experiments"}
	}
	for i, row := range r.Design {
		if len(row) != len(r.Candidates.Keys) {
			return &ValidationError{Field: fmt.Sprintf("Design[%d]", i), Reason: "row width does not match keys"}
		}
	}
	if r.Champion < 0 || (len(r.Values) > 0 && r.Champion >= len(r.Values)) {
		return &ValidationError{Field: "Champion", Reason: "out of range"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
