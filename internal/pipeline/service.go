// Package pipeline orchestrates bundle matching: validation against the
// datastore, patient identity resolution against the MPI, persistence of the
// rewritten bundle, and publication of the restored bundle to the event
// queue. One Service serves both the synchronous HTTP entry point and the
// asynchronous queue consumer.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"mpi-mediator/internal/bundle"
	"mpi-mediator/internal/fhir"
	"mpi-mediator/internal/platform/metrics"
	"mpi-mediator/internal/upstream"
	mErrors "mpi-mediator/pkg/errors"
	pstrings "mpi-mediator/pkg/platform/strings"
)

// DatastoreClient is the datastore surface the pipeline needs.
type DatastoreClient interface {
	ValidateBundle(ctx context.Context, b fhir.Bundle) (upstream.Response, error)
	SubmitBundle(ctx context.Context, b fhir.Bundle) (upstream.Response, error)
}

// MPIClient is the MPI surface the pipeline needs.
type MPIClient interface {
	LookupPatient(ctx context.Context, id string) (fhir.Resource, upstream.Response, error)
	RegisterPatient(ctx context.Context, patient fhir.Resource) (fhir.Resource, upstream.Response, error)
}

// Publisher publishes to the event channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service runs the matching pipeline.
type Service struct {
	datastore   DatastoreClient
	mpi         MPIClient
	producer    Publisher
	bundleTopic string

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a pipeline service.
func New(datastore DatastoreClient, mpi MPIClient, producer Publisher, bundleTopic string, opts ...Option) *Service {
	s := &Service{
		datastore:   datastore,
		mpi:         mpi,
		producer:    producer,
		bundleTopic: bundleTopic,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// execution accumulates state for one pipeline run.
type execution struct {
	orchestrations []Orchestration
}

func (e *execution) record(name, method, path, reqBody string, start time.Time, status int, respBody string, end time.Time) {
	e.orchestrations = append(e.orchestrations, Orchestration{
		Name: name,
		Request: OrchestrationRequest{
			Method:    method,
			Path:      path,
			Body:      reqBody,
			Timestamp: start,
		},
		Response: OrchestrationResponse{
			Status:    status,
			Body:      respBody,
			Timestamp: end,
		},
	})
}

// Run executes the full pipeline on a raw bundle. entry labels the entry
// point ("sync" or "async") for metrics and logs. The returned Result is
// terminal: every failure path is absorbed into a Failed result rather than
// an error, so callers always get orchestration records for diagnosis.
func (s *Service) Run(ctx context.Context, raw []byte, entry string) Result {
	run := &execution{}
	result := s.run(ctx, run, raw)
	result.Orchestrations = run.orchestrations

	if s.metrics != nil {
		s.metrics.ObservePipelineRun(entry, result.Status)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "pipeline run completed",
			"entry", entry,
			"status", result.Status,
			"http_status", result.HTTPStatus,
			"orchestrations", len(run.orchestrations),
		)
	}
	return result
}

func (s *Service) run(ctx context.Context, run *execution, raw []byte) Result {
	b, err := fhir.ParseBundle(raw)
	if err != nil || b.ResourceType != "Bundle" {
		return failed(http.StatusBadRequest, `{"error":"request body is not a FHIR Bundle"}`)
	}

	if result, ok := s.validate(ctx, run, b); !ok {
		return result
	}

	patientMap, refMap, result, ok := s.resolvePatients(ctx, run, b)
	if !ok {
		return result
	}

	persisted, persistResp, result, ok := s.persist(ctx, run, b, patientMap, refMap)
	if !ok {
		return result
	}

	if result, ok := s.publish(ctx, run, persisted, patientMap); !ok {
		return result
	}

	return Result{
		Status:     StatusSuccess,
		HTTPStatus: persistResp.StatusCode,
		Body:       string(persistResp.Body),
	}
}

// Validate submits the bundle to the datastore's $validate operation.
func (s *Service) validate(ctx context.Context, run *execution, b fhir.Bundle) (Result, bool) {
	start := s.now()
	resp, err := s.datastore.ValidateBundle(ctx, b)
	run.record("Bundle validation", http.MethodPost, "/fhir/Bundle/$validate", "",
		start, resp.StatusCode, string(resp.Body), s.now())

	if err != nil {
		return failedFromErr(err), false
	}
	return Result{}, true
}

// resolvePatients resolves every patient identity in the bundle against the
// MPI: embedded Patient resources are registered with a minimal projection,
// bare Patient references are looked up by id. All resolutions run
// concurrently and every failure is collected; one failed entry fails the
// bundle with an aggregated error body listing all failures.
func (s *Service) resolvePatients(ctx context.Context, run *execution, b fhir.Bundle) (map[string]bundle.PatientRecord, map[string]string, Result, bool) {
	patientEntries := bundle.ExtractPatientEntries(b)

	embedded := make(map[string]struct{})
	for _, e := range patientEntries {
		embedded[e.FullURL] = struct{}{}
		if id := e.Resource.ID(); id != "" {
			embedded[fhir.PatientRef(id)] = struct{}{}
		}
	}

	var bareRefs []string
	for _, e := range b.Entry {
		for _, ref := range fhir.CollectReferences(e.Resource, fhir.IsPatientRef) {
			if _, ok := embedded[ref]; !ok {
				bareRefs = append(bareRefs, ref)
			}
		}
	}
	bareRefs = pstrings.DedupeAndTrim(bareRefs)

	if len(patientEntries) == 0 && len(bareRefs) == 0 {
		return nil, nil, Result{}, true
	}

	var (
		mu         sync.Mutex
		patientMap = make(map[string]bundle.PatientRecord)
		refMap     = make(map[string]string)
		failures   []resolveFailure
		wg         sync.WaitGroup
	)

	// The whole fan-out set is awaited and every failure collected, rather
	// than short-circuiting on the first error.
	for _, entry := range patientEntries {
		wg.Add(1)
		go func() {
			defer wg.Done()

			projection := bundle.ProjectPatient(entry.Resource)
			start := s.now()
			registered, resp, err := s.mpi.RegisterPatient(ctx, projection)
			end := s.now()

			reqBody, _ := json.Marshal(projection)
			mu.Lock()
			defer mu.Unlock()
			run.record("Patient registration ("+entry.FullURL+")", http.MethodPost,
				"/fhir/Patient", string(reqBody), start, resp.StatusCode, string(resp.Body), end)
			if err != nil {
				failures = append(failures, resolveFailure{
					Entry:  entry.FullURL,
					Status: mErrors.UpstreamStatus(err),
					Body:   mErrors.UpstreamBody(err),
					Error:  err.Error(),
				})
				return
			}
			patientMap[entry.FullURL] = bundle.PatientRecord{
				FullURL:     entry.FullURL,
				Projection:  projection,
				MPIResponse: registered,
				Original:    entry.Resource.Clone(),
			}
		}()
	}

	for _, ref := range bareRefs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := fhir.PatientIDFromRef(ref)
			start := s.now()
			patient, resp, err := s.mpi.LookupPatient(ctx, id)
			end := s.now()

			mu.Lock()
			defer mu.Unlock()
			run.record("Patient lookup ("+ref+")", http.MethodGet,
				"/fhir/Patient/"+id, "", start, resp.StatusCode, string(resp.Body), end)
			if err != nil {
				failures = append(failures, resolveFailure{
					Entry:  ref,
					Status: mErrors.UpstreamStatus(err),
					Body:   mErrors.UpstreamBody(err),
					Error:  err.Error(),
				})
				return
			}
			if canonical := patient.ID(); canonical != "" {
				refMap[ref] = fhir.PatientRef(canonical)
			}
		}()
	}

	wg.Wait()

	if len(failures) > 0 {
		status := http.StatusInternalServerError
		for _, f := range failures {
			if f.Status != 0 {
				status = f.Status
				break
			}
		}
		body, _ := json.Marshal(map[string]any{"errors": failures})
		return nil, nil, failed(status, string(body)), false
	}
	return patientMap, refMap, Result{}, true
}

type resolveFailure struct {
	Entry  string `json:"entry"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error"`
}

// persist rewrites the bundle against the resolved identities and submits it
// to the datastore.
func (s *Service) persist(ctx context.Context, run *execution, b fhir.Bundle, patientMap map[string]bundle.PatientRecord, refMap map[string]string) (fhir.Bundle, upstream.Response, Result, bool) {
	modified, err := bundle.Modify(b, patientMap)
	if err != nil {
		return fhir.Bundle{}, upstream.Response{}, failedFromErr(err), false
	}

	for _, record := range patientMap {
		golden := record.GoldenRef()
		bundle.RewriteReferences(&modified, record.FullURL, golden)
		if id := record.Original.ID(); id != "" {
			bundle.RewriteReferences(&modified, fhir.PatientRef(id), golden)
		}
	}
	for oldRef, golden := range refMap {
		bundle.RewriteReferences(&modified, oldRef, golden)
	}

	start := s.now()
	resp, err := s.datastore.SubmitBundle(ctx, modified)
	run.record("Bundle persistence", http.MethodPost, "/fhir", "",
		start, resp.StatusCode, string(resp.Body), s.now())
	if err != nil {
		return fhir.Bundle{}, resp, failedFromErr(err), false
	}
	return modified, resp, Result{}, true
}

// publish restores full patient resources into a copy of the persisted
// bundle and publishes it. A publish failure fails the run even though the
// persisted write stands; reconciliation happens via the dead-letter topic.
func (s *Service) publish(ctx context.Context, run *execution, persisted fhir.Bundle, patientMap map[string]bundle.PatientRecord) (Result, bool) {
	restored := bundle.RestorePatients(persisted, patientMap)
	payload, err := json.Marshal(restored)
	if err != nil {
		return failedFromErr(mErrors.Wrap(err, mErrors.CodeInternal, "encode restored bundle")), false
	}

	start := s.now()
	err = s.producer.Publish(ctx, s.bundleTopic, []byte(uuid.NewString()), payload)
	status := http.StatusOK
	errBody := ""
	outcome := "ok"
	if err != nil {
		status = http.StatusInternalServerError
		errBody = err.Error()
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.ObserveQueuePublish(s.bundleTopic, outcome)
	}
	run.record("Bundle publication", "PRODUCE", s.bundleTopic, "",
		start, status, errBody, s.now())

	if err != nil {
		return failed(http.StatusInternalServerError,
			`{"error":"bundle persisted but event publication failed"}`), false
	}
	return Result{}, true
}

// Envelope wraps a result in the mediator response envelope.
func (s *Service) Envelope(urn string, result Result) Envelope {
	return Envelope{
		MediatorURN: urn,
		Status:      result.Status,
		Response: EnvelopeResponse{
			Status:    result.HTTPStatus,
			Headers:   map[string]string{"content-type": "application/json"},
			Body:      result.Body,
			Timestamp: s.now(),
		},
		Orchestrations: result.Orchestrations,
	}
}

func failed(status int, body string) Result {
	return Result{Status: StatusFailed, HTTPStatus: status, Body: body}
}

// failedFromErr converts a coded error into a failed result, preserving the
// upstream body as the error payload when one exists.
func failedFromErr(err error) Result {
	body := mErrors.UpstreamBody(err)
	if body == "" {
		encoded, _ := json.Marshal(map[string]string{"error": err.Error()})
		body = string(encoded)
	}
	return failed(mErrors.ToHTTPStatus(err), body)
}
