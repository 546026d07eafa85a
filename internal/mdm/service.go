// Package mdm implements identity-aware read operations: rewriting :mdm
// search parameters into expanded link sets and aggregating $everything
// queries across the golden-id equivalence set.
package mdm

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mpi-mediator/internal/bundle"
	"mpi-mediator/internal/fhir"
	pstrings "mpi-mediator/pkg/platform/strings"
)

// mdmSuffix marks a search parameter whose value should be expanded into the
// comma-joined link set before the query reaches the datastore.
const mdmSuffix = ":mdm"

// defaultEverythingTypes are the clinical resource types aggregated by
// $everything. Overridable per deployment via WithResourceTypes.
var defaultEverythingTypes = []string{
	"Encounter",
	"Observation",
	"Condition",
	"Procedure",
	"MedicationRequest",
	"DiagnosticReport",
	"AllergyIntolerance",
	"Immunization",
	"Appointment",
}

// Resolver expands a patient reference into its golden-id equivalence set.
type Resolver interface {
	ResolveLinks(ctx context.Context, rootRef string) ([]string, error)
}

// Searcher queries the clinical datastore by resource type.
type Searcher interface {
	Search(ctx context.Context, resourceType string, query url.Values) (fhir.Bundle, error)
}

// Service serves the MDM read path.
type Service struct {
	resolver  Resolver
	datastore Searcher
	types     []string
	fanout    int
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithResourceTypes overrides the resource types $everything aggregates.
func WithResourceTypes(types []string) Option {
	return func(s *Service) { s.types = types }
}

// WithFanout bounds concurrent datastore queries per aggregation.
func WithFanout(n int) Option {
	return func(s *Service) { s.fanout = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the MDM read service.
func New(resolver Resolver, datastore Searcher, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		datastore: datastore,
		types:     defaultEverythingTypes,
		fanout:    4,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RewriteQuery expands every :mdm-suffixed parameter: each patient reference
// in the value is resolved to its link set and the unsuffixed parameter gets
// the comma-joined union. Parameters without the suffix pass through
// untouched.
func (s *Service) RewriteQuery(ctx context.Context, query url.Values) (url.Values, error) {
	out := url.Values{}
	for key, values := range query {
		if !strings.HasSuffix(key, mdmSuffix) {
			out[key] = append(out[key], values...)
			continue
		}

		target := strings.TrimSuffix(key, mdmSuffix)
		for _, value := range values {
			expanded, err := s.expandRefs(ctx, pstrings.DedupeAndTrim(strings.Split(value, ",")))
			if err != nil {
				return nil, err
			}
			out.Add(target, strings.Join(expanded, ","))
		}
	}
	return out, nil
}

// Search rewrites the query and forwards it to the datastore.
func (s *Service) Search(ctx context.Context, resourceType string, query url.Values) (fhir.Bundle, error) {
	rewritten, err := s.RewriteQuery(ctx, query)
	if err != nil {
		return fhir.Bundle{}, err
	}
	return s.datastore.Search(ctx, resourceType, rewritten)
}

// Everything aggregates all clinical resources for a patient into one
// searchset. With mdm set, the patient's link set is expanded first and every
// member's resources are included.
func (s *Service) Everything(ctx context.Context, patientID string, mdm bool) (fhir.Bundle, error) {
	refs := []string{fhir.PatientRef(patientID)}
	if mdm {
		expanded, err := s.resolver.ResolveLinks(ctx, fhir.PatientRef(patientID))
		if err != nil {
			return fhir.Bundle{}, err
		}
		refs = expanded
	}
	patientParam := strings.Join(refs, ",")

	results := make([]fhir.Bundle, len(s.types))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, resourceType := range s.types {
		g.Go(func() error {
			query := url.Values{"patient": []string{patientParam}}
			b, err := s.datastore.Search(gctx, resourceType, query)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fhir.Bundle{}, err
	}

	merged := bundle.Merge(s.now(), fhir.BundleTypeSearchset, results...)
	if s.logger != nil {
		s.logger.DebugContext(ctx, "everything aggregation complete",
			"patient", patientID,
			"mdm", mdm,
			"members", len(refs),
			"total", merged.Total,
		)
	}
	return merged, nil
}

// expandRefs resolves each patient reference's link set and returns the
// deduplicated union in discovery order. Non-patient values pass through so
// queries like subject:mdm=Group/1 degrade to the original value.
func (s *Service) expandRefs(ctx context.Context, refs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(ref string) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}

	for _, ref := range refs {
		if !fhir.IsPatientRef(ref) {
			add(ref)
			continue
		}
		links, err := s.resolver.ResolveLinks(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			add(link)
		}
	}
	return out, nil
}
