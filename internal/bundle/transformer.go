// Package bundle implements the pure bundle transformations of the matching
// pipeline: patient extraction, gutting, reference rewriting, transaction
// conversion, patient restoration, and searchset merging. No I/O happens
// here; inputs are cloned so callers keep their originals.
package bundle

import (
	"net/http"
	"time"

	"mpi-mediator/internal/fhir"
	mErrors "mpi-mediator/pkg/errors"
)

// PatientRecord tracks one patient entry across the pipeline stages, keyed
// by the entry's bundle-local fullUrl.
type PatientRecord struct {
	FullURL string
	// Projection is the demographics-only patient sent to the MPI.
	Projection fhir.Resource
	// MPIResponse is the MPI's patient, carrying the golden id.
	MPIResponse fhir.Resource
	// Original is the complete pre-registration patient, re-inserted into
	// the bundle published to the event queue.
	Original fhir.Resource
}

// GoldenRef returns the canonical patient reference from the MPI response,
// empty when the response lacks an id.
func (r PatientRecord) GoldenRef() string {
	id := r.MPIResponse.ID()
	if id == "" {
		return ""
	}
	return fhir.PatientRef(id)
}

// ExtractPatientEntries returns all entries whose resource is a Patient.
func ExtractPatientEntries(b fhir.Bundle) []fhir.Entry {
	var entries []fhir.Entry
	for _, e := range b.Entry {
		if e.Resource.Type() == "Patient" {
			entries = append(entries, e)
		}
	}
	return entries
}

// ProjectPatient builds the minimal MPI-facing projection of a patient:
// demographics only, with extensions and the managing organization stripped.
// The full resource stays in the PatientRecord for later restoration.
func ProjectPatient(patient fhir.Resource) fhir.Resource {
	projection := patient.Clone()
	delete(projection, "extension")
	delete(projection, "managingOrganization")
	return projection
}

// GutPatientEntry replaces the entry's resource with a minimal stub carrying
// only a refer link to canonicalRef, and directs the datastore to PUT it at
// the canonical location. The datastore ends up storing a pointer to the
// identity rather than a second copy of the demographics.
func GutPatientEntry(entry fhir.Entry, canonicalRef string) fhir.Entry {
	return fhir.Entry{
		FullURL: entry.FullURL,
		Resource: fhir.Resource{
			"resourceType": "Patient",
			"link": []any{
				map[string]any{
					"type":  "refer",
					"other": map[string]any{"reference": canonicalRef},
				},
			},
		},
		Request: &fhir.Request{Method: http.MethodPut, URL: canonicalRef},
	}
}

// RewriteReferences substitutes every reference equal to oldRef with newRef
// across all entry resources. Matching is structural and exact, never
// substring-based.
func RewriteReferences(b *fhir.Bundle, oldRef, newRef string) {
	for _, e := range b.Entry {
		fhir.RewriteReferences(e.Resource, oldRef, newRef)
	}
}

// Modify converts a document bundle into a transaction: every non-patient
// entry gains a PUT request at its own location, and every entry present in
// patientMap is gutted against its golden reference. Fails when a mapped
// MPI response lacks an id.
func Modify(b fhir.Bundle, patientMap map[string]PatientRecord) (fhir.Bundle, error) {
	out := b.Clone()
	if out.Type == fhir.BundleTypeDocument {
		out.Type = fhir.BundleTypeTransaction
	}

	for i, e := range out.Entry {
		if record, ok := patientMap[e.FullURL]; ok {
			golden := record.GoldenRef()
			if golden == "" {
				return fhir.Bundle{}, mErrors.Newf(mErrors.CodeMissingID,
					"MPI response for entry %q has no id", e.FullURL)
			}
			out.Entry[i] = GutPatientEntry(e, golden)
			continue
		}
		if e.Request == nil {
			out.Entry[i].Request = &fhir.Request{
				Method: http.MethodPut,
				URL:    e.Resource.Type() + "/" + e.Resource.ID(),
			}
		}
	}
	return out, nil
}

// RestorePatients returns a copy of the bundle with every mapped patient
// entry's resource replaced by its original pre-registration body, so queue
// consumers see complete demographic data even though the datastore only
// stores gutted stubs.
func RestorePatients(b fhir.Bundle, patientMap map[string]PatientRecord) fhir.Bundle {
	out := b.Clone()
	for i, e := range out.Entry {
		if record, ok := patientMap[e.FullURL]; ok && record.Original != nil {
			out.Entry[i].Resource = record.Original.Clone()
			out.Entry[i].Request = nil
		}
	}
	return out
}

// Merge concatenates the source bundles into one bundle of the given type.
// Totals are summed, entries keep input order, each source bundle's own link
// entries become subsection relations, and the merged bundle gets a fresh
// lastUpdated stamp.
func Merge(now time.Time, bundleType string, bundles ...fhir.Bundle) fhir.Bundle {
	merged := fhir.Bundle{
		ResourceType: "Bundle",
		Type:         bundleType,
	}
	for _, b := range bundles {
		merged.Entry = append(merged.Entry, b.Entry...)
		merged.Total += len(b.Entry)
		for _, l := range b.Link {
			merged.Link = append(merged.Link, fhir.Link{
				Relation: "subsection",
				URL:      l.URL,
			})
		}
	}
	merged.StampLastUpdated(now)
	return merged
}
