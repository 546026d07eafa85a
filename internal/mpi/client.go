// Package mpi talks to the Master Patient Index: patient lookup, patient
// registration, and golden-id link resolution.
package mpi

import (
	"context"
	"encoding/json"
	"net/http"

	"mpi-mediator/internal/fhir"
	"mpi-mediator/internal/upstream"
	mErrors "mpi-mediator/pkg/errors"
)

const patientPath = "/fhir/Patient"

// Client is the MPI-facing FHIR client.
type Client struct {
	http *upstream.Client
}

// NewClient wraps the upstream client for MPI operations.
func NewClient(http *upstream.Client) *Client {
	return &Client{http: http}
}

// FetchPatient fetches the patient at ref. A 404 is not an error: it reports
// found=false so link expansion treats missing resources as leaf nodes.
func (c *Client) FetchPatient(ctx context.Context, ref string) (fhir.Resource, bool, error) {
	id := fhir.PatientIDFromRef(ref)
	if id == "" {
		return nil, false, mErrors.Newf(mErrors.CodeBadRequest, "not a patient reference: %q", ref)
	}

	resp, err := c.http.Get(ctx, patientPath+"/"+id, nil, "fetch-patient")
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if !resp.Success() {
		return nil, false, mErrors.FromUpstream(mErrors.CodeUpstream, resp.StatusCode, string(resp.Body))
	}

	var patient fhir.Resource
	if err := json.Unmarshal(resp.Body, &patient); err != nil {
		return nil, false, mErrors.Wrap(err, mErrors.CodeUpstream, "parse patient "+ref)
	}
	return patient, true, nil
}

// LookupPatient fetches a patient by id and fails on any non-2xx, returning
// the raw response for orchestration records.
func (c *Client) LookupPatient(ctx context.Context, id string) (fhir.Resource, upstream.Response, error) {
	resp, err := c.http.Get(ctx, patientPath+"/"+id, nil, "lookup-patient")
	if err != nil {
		return nil, resp, err
	}
	if !resp.Success() {
		return nil, resp, mErrors.FromUpstream(mErrors.CodeUpstream, resp.StatusCode, string(resp.Body))
	}

	var patient fhir.Resource
	if err := json.Unmarshal(resp.Body, &patient); err != nil {
		return nil, resp, mErrors.Wrap(err, mErrors.CodeUpstream, "parse patient "+id)
	}
	return patient, resp, nil
}

// RegisterPatient submits a minimal patient projection for identity
// resolution and returns the MPI's patient, which carries the golden id.
func (c *Client) RegisterPatient(ctx context.Context, patient fhir.Resource) (fhir.Resource, upstream.Response, error) {
	body, err := json.Marshal(patient)
	if err != nil {
		return nil, upstream.Response{}, mErrors.Wrap(err, mErrors.CodeInternal, "encode patient")
	}

	resp, err := c.http.Post(ctx, patientPath, body, "register-patient")
	if err != nil {
		return nil, resp, err
	}
	if !resp.Success() {
		return nil, resp, mErrors.FromUpstream(mErrors.CodeUpstream, resp.StatusCode, string(resp.Body))
	}

	var registered fhir.Resource
	if err := json.Unmarshal(resp.Body, &registered); err != nil {
		return nil, resp, mErrors.Wrap(err, mErrors.CodeUpstream, "parse registration response")
	}
	return registered, resp, nil
}
