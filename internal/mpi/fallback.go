package mpi

import (
	"context"

	"mpi-mediator/internal/fhir"
)

// FallbackFetcher consults a secondary registry for patients the primary
// does not hold. Patient ids are only unique within one registry's
// namespace, so link expansion across registries needs both: a reference
// missing from the primary may still resolve (and carry links) in the
// secondary. Errors from either registry propagate; only a clean not-found
// falls through.
type FallbackFetcher struct {
	primary   PatientFetcher
	secondary PatientFetcher
}

// NewFallbackFetcher chains the two registries, primary first.
func NewFallbackFetcher(primary, secondary PatientFetcher) *FallbackFetcher {
	return &FallbackFetcher{primary: primary, secondary: secondary}
}

// FetchPatient implements PatientFetcher.
func (f *FallbackFetcher) FetchPatient(ctx context.Context, ref string) (fhir.Resource, bool, error) {
	patient, found, err := f.primary.FetchPatient(ctx, ref)
	if err != nil || found {
		return patient, found, err
	}
	return f.secondary.FetchPatient(ctx, ref)
}
