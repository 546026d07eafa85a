package pipeline

import "time"

// Pipeline outcome statuses surfaced in the response envelope.
const (
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// Orchestration is one audited sub-request/response pair performed while
// handling a caller's request. Records are append-only and never influence
// control flow.
type Orchestration struct {
	Name     string                `json:"name"`
	Request  OrchestrationRequest  `json:"request"`
	Response OrchestrationResponse `json:"response"`
}

// OrchestrationRequest snapshots the outbound sub-request.
type OrchestrationRequest struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrchestrationResponse snapshots the upstream's answer.
type OrchestrationResponse struct {
	Status    int       `json:"status"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeResponse is the final response embedded in the envelope. Body is
// string-encoded JSON per the managing platform's mediator protocol.
type EnvelopeResponse struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
}

// Envelope is the mediator response returned to HTTP callers and embedded
// in audit records.
type Envelope struct {
	MediatorURN    string           `json:"x-mediator-urn"`
	Status         string           `json:"status"`
	Response       EnvelopeResponse `json:"response"`
	Orchestrations []Orchestration  `json:"orchestrations"`
}

// Result is the outcome of one pipeline execution.
type Result struct {
	Status         string
	HTTPStatus     int
	Body           string
	Orchestrations []Orchestration
}

// Failed reports whether the pipeline ended in the absorbing failure state.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}
