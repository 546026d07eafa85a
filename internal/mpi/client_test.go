package mpi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi-mediator/internal/fhir"
	"mpi-mediator/internal/platform/config"
	"mpi-mediator/internal/upstream"
	mErrors "mpi-mediator/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	up := upstream.New("mpi", config.Upstream{BaseURL: srv.URL}, nil,
		upstream.WithHTTPClient(srv.Client()))
	return NewClient(up)
}

func TestFetchPatientNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	patient, found, err := client.FetchPatient(context.Background(), "Patient/missing")
	require.NoError(t, err, "404 is not an error during link expansion")
	assert.False(t, found)
	assert.Nil(t, patient)
}

func TestFetchPatientRejectsNonPatientRef(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, _, err := client.FetchPatient(context.Background(), "Observation/1")
	require.Error(t, err)
	assert.Equal(t, mErrors.CodeBadRequest, mErrors.CodeOf(err))
}

func TestFetchPatientDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fhir/Patient/1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resourceType": "Patient",
			"id":           "1",
		})
	})

	patient, found, err := client.FetchPatient(context.Background(), "Patient/1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", patient.ID())
}

func TestLookupPatientUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, resp, err := client.LookupPatient(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, mErrors.CodeUpstream, mErrors.CodeOf(err))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", mErrors.UpstreamBody(err))
}

func TestRegisterPatientPostsProjection(t *testing.T) {
	var received fhir.Resource
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fhir/Patient", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resourceType": "Patient",
			"id":           "golden-1",
		})
	})

	registered, resp, err := client.RegisterPatient(context.Background(), fhir.Resource{
		"resourceType": "Patient",
		"name":         []any{map[string]any{"family": "Doe"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "golden-1", registered.ID())
	assert.Equal(t, "Patient", received.Type())
}
