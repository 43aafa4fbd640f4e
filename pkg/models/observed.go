package models

import "time"

// ObservedRequest is a metrics request seen on the wire that identifies a
// backend job. Immutable once captured.
type ObservedRequest struct {
	URL                string    `json:"url" yaml:"url"`
	CorrelationID      string    `json:"correlation_id" yaml:"correlation_id"`
	Collection         string    `json:"collection" yaml:"collection"`
	BaseEndpoint       string    `json:"base_endpoint" yaml:"base_endpoint"`             // <prefix>/metrics/<collection>
	SubmissionEndpoint string    `json:"submission_endpoint" yaml:"submission_endpoint"` // <prefix>/metrics/<target>
	ObservedAt         time.Time `json:"observed_at" yaml:"observed_at"`
}

// NewerThan reports whether r was observed after other. A nil other is always older.
func (r *ObservedRequest) NewerThan(other *ObservedRequest) bool {
	if other == nil {
		return true
	}
	return !r.ObservedAt.Before(other.ObservedAt)
}
