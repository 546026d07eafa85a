// Package httptransport is the mediator's HTTP surface: synchronous and
// asynchronous bundle intake, MDM-aware search and aggregation, and patient
// lookup. Handlers delegate to services and only translate between HTTP and
// domain types.
package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mpi-mediator/internal/fhir"
	"mpi-mediator/internal/pipeline"
	"mpi-mediator/internal/upstream"
	mErrors "mpi-mediator/pkg/errors"
	"mpi-mediator/pkg/platform/httputil"
)

// maxBundleBytes caps the intake request body.
const maxBundleBytes = 10 << 20

// Pipeline runs the matching pipeline and wraps results in the mediator
// envelope.
type Pipeline interface {
	Run(ctx context.Context, raw []byte, entry string) pipeline.Result
	Envelope(urn string, result pipeline.Result) pipeline.Envelope
}

// Validator pre-validates async bundles before they are queued.
type Validator interface {
	ValidateBundle(ctx context.Context, b fhir.Bundle) (upstream.Response, error)
}

// Publisher enqueues bundles on the async intake topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// MDMReader serves identity-aware reads.
type MDMReader interface {
	Search(ctx context.Context, resourceType string, query url.Values) (fhir.Bundle, error)
	Everything(ctx context.Context, patientID string, mdm bool) (fhir.Bundle, error)
}

// PatientReader looks patients up in the MPI.
type PatientReader interface {
	LookupPatient(ctx context.Context, id string) (fhir.Resource, upstream.Response, error)
}

// Handler wires mediator endpoints to the pipeline and read services.
type Handler struct {
	pipeline    Pipeline
	validator   Validator
	producer    Publisher
	mdm         MDMReader
	patients    PatientReader
	mediatorURN string
	asyncTopic  string
	logger      *slog.Logger
}

// New constructs the handler with its dependencies.
func New(p Pipeline, validator Validator, producer Publisher, mdm MDMReader, patients PatientReader, mediatorURN, asyncTopic string, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline:    p,
		validator:   validator,
		producer:    producer,
		mdm:         mdm,
		patients:    patients,
		mediatorURN: mediatorURN,
		asyncTopic:  asyncTopic,
		logger:      logger,
	}
}

// Register mounts mediator endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/fhir", h.HandleSyncIntake)
	r.Post("/fhir/async", h.HandleAsyncIntake)
	r.Get("/fhir/Patient/{patientID}/$everything", h.HandleEverything)
	r.Get("/fhir/Patient/{patientID}", h.HandlePatientLookup)
	r.Get("/fhir/{resourceType}", h.HandleSearch)
}

// HandleSyncIntake handles POST /fhir: the full pipeline runs inline and the
// caller receives the envelope with the pipeline's terminal status.
func (h *Handler) HandleSyncIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBundleBytes))
	if err != nil {
		httputil.WriteError(w, mErrors.Wrap(err, mErrors.CodeBadRequest, "read request body"))
		return
	}

	result := h.pipeline.Run(ctx, raw, "sync")
	envelope := h.pipeline.Envelope(h.mediatorURN, result)
	httputil.WriteJSON(w, result.HTTPStatus, envelope)
}

// HandleAsyncIntake handles POST /fhir/async: the bundle is validated inline
// and queued for pipeline execution. Validation failures answer the caller
// immediately and nothing is queued.
func (h *Handler) HandleAsyncIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBundleBytes))
	if err != nil {
		httputil.WriteError(w, mErrors.Wrap(err, mErrors.CodeBadRequest, "read request body"))
		return
	}

	b, err := fhir.ParseBundle(raw)
	if err != nil || b.ResourceType != "Bundle" {
		h.writeEnvelope(w, pipeline.Result{
			Status:     pipeline.StatusFailed,
			HTTPStatus: http.StatusBadRequest,
			Body:       `{"error":"request body is not a FHIR Bundle"}`,
		})
		return
	}

	if _, err := h.validator.ValidateBundle(ctx, b); err != nil {
		h.logger.WarnContext(ctx, "async bundle rejected by validation",
			"error", err,
		)
		body := mErrors.UpstreamBody(err)
		if body == "" {
			body = `{"error":"bundle validation failed"}`
		}
		h.writeEnvelope(w, pipeline.Result{
			Status:     pipeline.StatusFailed,
			HTTPStatus: mErrors.ToHTTPStatus(err),
			Body:       body,
		})
		return
	}

	if err := h.producer.Publish(ctx, h.asyncTopic, []byte(uuid.NewString()), raw); err != nil {
		h.logger.ErrorContext(ctx, "async intake enqueue failed", "error", err)
		h.writeEnvelope(w, pipeline.Result{
			Status:     pipeline.StatusFailed,
			HTTPStatus: mErrors.ToHTTPStatus(err),
			Body:       `{"error":"bundle accepted but could not be queued"}`,
		})
		return
	}

	h.logger.InfoContext(ctx, "bundle queued for async processing",
		"entries", len(b.Entry),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.writeEnvelope(w, pipeline.Result{
		Status:     pipeline.StatusSuccess,
		HTTPStatus: http.StatusAccepted,
		Body:       `{"message":"bundle queued for processing"}`,
	})
}

// HandleEverything handles GET /fhir/Patient/{patientID}/$everything. With
// _mdm=true the aggregation spans the whole golden-id equivalence set.
func (h *Handler) HandleEverything(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")
	mdm := r.URL.Query().Get("_mdm") == "true"

	merged, err := h.mdm.Everything(ctx, patientID, mdm)
	if err != nil {
		h.logger.ErrorContext(ctx, "everything aggregation failed",
			"patient_id", patientID,
			"mdm", mdm,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteFHIRJSON(w, http.StatusOK, merged)
}

// HandlePatientLookup handles GET /fhir/Patient/{patientID} against the MPI.
func (h *Handler) HandlePatientLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	patient, _, err := h.patients.LookupPatient(ctx, patientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteFHIRJSON(w, http.StatusOK, patient)
}

// HandleSearch handles GET /fhir/{resourceType}: the query is forwarded to
// the datastore after :mdm parameter expansion.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceType := chi.URLParam(r, "resourceType")

	result, err := h.mdm.Search(ctx, resourceType, r.URL.Query())
	if err != nil {
		h.logger.ErrorContext(ctx, "mdm search failed",
			"resource_type", resourceType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteFHIRJSON(w, http.StatusOK, result)
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, result pipeline.Result) {
	httputil.WriteJSON(w, result.HTTPStatus, h.pipeline.Envelope(h.mediatorURN, result))
}
