package fhir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteReferencesExactMatchOnly(t *testing.T) {
	resource := Resource{
		"resourceType": "Encounter",
		"subject":      map[string]any{"reference": "Patient/1"},
		"participant": []any{
			map[string]any{"individual": map[string]any{"reference": "Patient/12"}},
		},
	}

	RewriteReferences(resource, "Patient/1", "Patient/golden")

	subject := resource["subject"].(map[string]any)
	assert.Equal(t, "Patient/golden", subject["reference"])

	participant := resource["participant"].([]any)[0].(map[string]any)
	individual := participant["individual"].(map[string]any)
	assert.Equal(t, "Patient/12", individual["reference"], "Patient/12 must not match Patient/1")
}

func TestCollectReferencesDeduplicates(t *testing.T) {
	resource := Resource{
		"subject":   map[string]any{"reference": "Patient/1"},
		"performer": []any{map[string]any{"reference": "Patient/1"}},
		"encounter": map[string]any{"reference": "Encounter/9"},
	}

	refs := CollectReferences(resource, IsPatientRef)
	assert.Equal(t, []string{"Patient/1"}, refs)
}

func TestPatientLinks(t *testing.T) {
	patient := Resource{
		"resourceType": "Patient",
		"id":           "1",
		"link": []any{
			map[string]any{"other": map[string]any{"reference": "Patient/3"}, "type": "refer"},
			map[string]any{"other": map[string]any{"reference": "Patient/2"}, "type": "seealso"},
			map[string]any{"type": "refer"}, // no other.reference, skipped
		},
	}

	assert.Equal(t, []string{"Patient/3", "Patient/2"}, PatientLinks(patient))
}

func TestPatientRefHelpers(t *testing.T) {
	assert.Equal(t, "Patient/abc", PatientRef("abc"))
	assert.True(t, IsPatientRef("Patient/abc"))
	assert.False(t, IsPatientRef("Practitioner/abc"))
	assert.Equal(t, "abc", PatientIDFromRef("Patient/abc"))
	assert.Equal(t, "", PatientIDFromRef("Observation/abc"))
}

func TestBundleCloneIsDeep(t *testing.T) {
	b := Bundle{
		ResourceType: "Bundle",
		Type:         BundleTypeDocument,
		Entry: []Entry{{
			FullURL:  "urn:uuid:p1",
			Resource: Resource{"resourceType": "Patient", "id": "1", "name": []any{map[string]any{"family": "Doe"}}},
		}},
	}

	clone := b.Clone()
	clone.Entry[0].Resource["id"] = "changed"
	name := clone.Entry[0].Resource["name"].([]any)[0].(map[string]any)
	name["family"] = "Smith"

	assert.Equal(t, "1", b.Entry[0].Resource.ID())
	origName := b.Entry[0].Resource["name"].([]any)[0].(map[string]any)
	assert.Equal(t, "Doe", origName["family"])
}

func TestParseBundle(t *testing.T) {
	raw := []byte(`{"resourceType":"Bundle","type":"document","entry":[{"fullUrl":"urn:uuid:1","resource":{"resourceType":"Patient","id":"1"}}]}`)
	b, err := ParseBundle(raw)
	require.NoError(t, err)
	assert.Equal(t, BundleTypeDocument, b.Type)
	require.Len(t, b.Entry, 1)
	assert.Equal(t, "Patient", b.Entry[0].Resource.Type())
}
