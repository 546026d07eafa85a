package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi-mediator/internal/fhir"
	mErrors "mpi-mediator/pkg/errors"
)

func documentBundle() fhir.Bundle {
	return fhir.Bundle{
		ResourceType: "Bundle",
		Type:         fhir.BundleTypeDocument,
		Entry: []fhir.Entry{
			{
				FullURL: "urn:uuid:patient-1",
				Resource: fhir.Resource{
					"resourceType": "Patient",
					"id":           "local-1",
					"name":         []any{map[string]any{"family": "Doe"}},
					"extension":    []any{map[string]any{"url": "http://example.org/ext"}},
					"managingOrganization": map[string]any{
						"reference": "Organization/org-1",
					},
				},
			},
			{
				FullURL: "urn:uuid:encounter-1",
				Resource: fhir.Resource{
					"resourceType": "Encounter",
					"id":           "enc-1",
					"subject":      map[string]any{"reference": "urn:uuid:patient-1"},
				},
			},
		},
	}
}

func patientRecord(goldenID string) PatientRecord {
	original := documentBundle().Entry[0].Resource
	return PatientRecord{
		FullURL:     "urn:uuid:patient-1",
		Projection:  ProjectPatient(original),
		MPIResponse: fhir.Resource{"resourceType": "Patient", "id": goldenID},
		Original:    original,
	}
}

func TestExtractPatientEntries(t *testing.T) {
	entries := ExtractPatientEntries(documentBundle())
	require.Len(t, entries, 1)
	assert.Equal(t, "urn:uuid:patient-1", entries[0].FullURL)
}

func TestProjectPatientStripsExtensionsAndOrganization(t *testing.T) {
	original := documentBundle().Entry[0].Resource
	projection := ProjectPatient(original)

	assert.NotContains(t, projection, "extension")
	assert.NotContains(t, projection, "managingOrganization")
	assert.Contains(t, projection, "name")

	// Original untouched.
	assert.Contains(t, original, "extension")
	assert.Contains(t, original, "managingOrganization")
}

func TestModifyConvertsDocumentToTransaction(t *testing.T) {
	out, err := Modify(documentBundle(), nil)
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeTransaction, out.Type)
}

func TestModifyAnnotatesNonPatientEntries(t *testing.T) {
	out, err := Modify(documentBundle(), nil)
	require.NoError(t, err)

	for _, e := range out.Entry {
		require.NotNil(t, e.Request)
		assert.Equal(t, "PUT", e.Request.Method)
	}
	assert.Equal(t, "Encounter/enc-1", out.Entry[1].Request.URL)
}

func TestModifyGutsMappedPatient(t *testing.T) {
	record := patientRecord("xxx")
	out, err := Modify(documentBundle(), map[string]PatientRecord{
		record.FullURL: record,
	})
	require.NoError(t, err)

	gutted := out.Entry[0].Resource
	links, ok := gutted["link"].([]any)
	require.True(t, ok)
	require.Len(t, links, 1)

	link := links[0].(map[string]any)
	assert.Equal(t, "refer", link["type"])
	assert.Equal(t, "Patient/xxx", link["other"].(map[string]any)["reference"])

	assert.Len(t, gutted, 2, "stub carries only resourceType and link")
	assert.Equal(t, &fhir.Request{Method: "PUT", URL: "Patient/xxx"}, out.Entry[0].Request)
}

func TestModifyMissingIDFails(t *testing.T) {
	record := patientRecord("")
	_, err := Modify(documentBundle(), map[string]PatientRecord{
		record.FullURL: record,
	})
	require.Error(t, err)
	assert.Equal(t, mErrors.CodeMissingID, mErrors.CodeOf(err))
}

func TestModifyDoesNotMutateInput(t *testing.T) {
	in := documentBundle()
	record := patientRecord("xxx")
	_, err := Modify(in, map[string]PatientRecord{record.FullURL: record})
	require.NoError(t, err)

	assert.Equal(t, fhir.BundleTypeDocument, in.Type)
	assert.Contains(t, in.Entry[0].Resource, "name")
	assert.Nil(t, in.Entry[1].Request)
}

func TestRewriteReferences(t *testing.T) {
	b := documentBundle()
	RewriteReferences(&b, "urn:uuid:patient-1", "Patient/xxx")

	subject := b.Entry[1].Resource["subject"].(map[string]any)
	assert.Equal(t, "Patient/xxx", subject["reference"])
}

func TestRestorePatients(t *testing.T) {
	record := patientRecord("xxx")
	gutted, err := Modify(documentBundle(), map[string]PatientRecord{
		record.FullURL: record,
	})
	require.NoError(t, err)

	restored := RestorePatients(gutted, map[string]PatientRecord{
		record.FullURL: record,
	})

	patient := restored.Entry[0].Resource
	assert.Contains(t, patient, "name")
	assert.Contains(t, patient, "extension")
	assert.Contains(t, patient, "managingOrganization")
	assert.Nil(t, restored.Entry[0].Request)

	// The persisted form stays gutted.
	assert.NotContains(t, gutted.Entry[0].Resource, "name")
}

func TestMerge(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	a := fhir.Bundle{
		ResourceType: "Bundle",
		Type:         fhir.BundleTypeSearchset,
		Link:         []fhir.Link{{Relation: "self", URL: "http://ds/Encounter?subject=Patient/1"}},
		Entry: []fhir.Entry{
			{Resource: fhir.Resource{"resourceType": "Encounter", "id": "e1"}},
			{Resource: fhir.Resource{"resourceType": "Encounter", "id": "e2"}},
		},
	}
	b := fhir.Bundle{
		ResourceType: "Bundle",
		Type:         fhir.BundleTypeSearchset,
		Link:         []fhir.Link{{Relation: "self", URL: "http://ds/Observation?subject=Patient/1"}},
		Entry: []fhir.Entry{
			{Resource: fhir.Resource{"resourceType": "Observation", "id": "o1"}},
		},
	}

	merged := Merge(now, fhir.BundleTypeSearchset, a, b)

	assert.Equal(t, 3, merged.Total)
	require.Len(t, merged.Entry, 3)
	assert.Equal(t, "e1", merged.Entry[0].Resource.ID())
	assert.Equal(t, "o1", merged.Entry[2].Resource.ID())

	require.Len(t, merged.Link, 2)
	for _, l := range merged.Link {
		assert.Equal(t, "subsection", l.Relation)
	}
	require.NotNil(t, merged.Meta)
	assert.Equal(t, "2026-09-01T12:00:00Z", merged.Meta.LastUpdated)
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge(time.Now(), fhir.BundleTypeSearchset)
	assert.Zero(t, merged.Total)
	assert.Empty(t, merged.Entry)
}
