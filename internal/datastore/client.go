// Package datastore talks to the clinical datastore: bundle validation,
// bundle persistence, and clinical resource queries.
package datastore

import (
	"context"
	"encoding/json"
	"net/url"

	"mpi-mediator/internal/fhir"
	"mpi-mediator/internal/upstream"
	mErrors "mpi-mediator/pkg/errors"
)

// Client is the datastore-facing FHIR client.
type Client struct {
	http *upstream.Client
}

// NewClient wraps the upstream client for datastore operations.
func NewClient(http *upstream.Client) *Client {
	return &Client{http: http}
}

// ValidateBundle submits the bundle to the datastore's $validate operation.
// A non-200 yields a validation error carrying the upstream's validation
// body so callers can surface the issues verbatim.
func (c *Client) ValidateBundle(ctx context.Context, bundle fhir.Bundle) (upstream.Response, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return upstream.Response{}, mErrors.Wrap(err, mErrors.CodeInternal, "encode bundle")
	}

	resp, err := c.http.Post(ctx, "/fhir/Bundle/$validate", body, "validate-bundle")
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != 200 {
		return resp, mErrors.FromUpstream(mErrors.CodeValidation, resp.StatusCode, string(resp.Body))
	}
	return resp, nil
}

// SubmitBundle persists a transaction bundle.
func (c *Client) SubmitBundle(ctx context.Context, bundle fhir.Bundle) (upstream.Response, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return upstream.Response{}, mErrors.Wrap(err, mErrors.CodeInternal, "encode bundle")
	}

	resp, err := c.http.Post(ctx, "/fhir", body, "submit-bundle")
	if err != nil {
		return resp, err
	}
	if !resp.Success() {
		return resp, mErrors.FromUpstream(mErrors.CodeUpstream, resp.StatusCode, string(resp.Body))
	}
	return resp, nil
}

// Search queries one resource type and decodes the searchset bundle.
func (c *Client) Search(ctx context.Context, resourceType string, query url.Values) (fhir.Bundle, error) {
	resp, err := c.http.Get(ctx, "/fhir/"+resourceType, query, "search-"+resourceType)
	if err != nil {
		return fhir.Bundle{}, err
	}
	if !resp.Success() {
		return fhir.Bundle{}, mErrors.FromUpstream(mErrors.CodeUpstream, resp.StatusCode, string(resp.Body))
	}

	bundle, err := fhir.ParseBundle(resp.Body)
	if err != nil {
		return fhir.Bundle{}, mErrors.Wrap(err, mErrors.CodeUpstream, "parse "+resourceType+" searchset")
	}
	return bundle, nil
}
