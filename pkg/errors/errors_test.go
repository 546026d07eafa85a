package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeUpstream, "fetch patient")

	require.Error(t, err)
	assert.Equal(t, CodeUpstream, CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeUpstream, "ignored"))
}

func TestCodeOfUncoded(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("plain")))
}

func TestFromUpstreamKeepsStatusAndBody(t *testing.T) {
	err := FromUpstream(CodeValidation, 422, `{"issue":[]}`)

	assert.Equal(t, 422, UpstreamStatus(err))
	assert.Equal(t, `{"issue":[]}`, UpstreamBody(err))
	assert.Equal(t, 422, ToHTTPStatus(err))
}

func TestFromUpstreamThroughWrapChain(t *testing.T) {
	inner := FromUpstream(CodeAuth, 401, "denied")
	outer := fmt.Errorf("token exchange: %w", inner)

	assert.Equal(t, CodeAuth, CodeOf(outer))
	assert.Equal(t, 401, UpstreamStatus(outer))
}

func TestToHTTPStatusByCode(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest: http.StatusBadRequest,
		CodeMissingID:  http.StatusBadRequest,
		CodeAuth:       http.StatusUnauthorized,
		CodeValidation: http.StatusUnprocessableEntity,
		CodeUpstream:   http.StatusBadGateway,
		CodePublish:    http.StatusBadGateway,
		CodeInternal:   http.StatusInternalServerError,
		CodeConfig:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(New(code, "x")), "code %s", code)
	}
}
