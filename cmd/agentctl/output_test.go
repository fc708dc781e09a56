package main

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestPrintJSONResponse_ErrorsOnHTTPErrorStatus(t *testing.T) {
	resp := newResponse(http.StatusNotFound, `{"error":"no such session"}`)
	err := printJSONResponse(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such session")
}

func TestPrintJSONResponse_SucceedsOnValidJSONBody(t *testing.T) {
	resp := newResponse(http.StatusOK, `{"sessionId":"s1","outcome":"done"}`)
	assert.NoError(t, printJSONResponse(resp))
}

func TestPrintJSONResponse_FallsBackToRawBodyOnNonJSON(t *testing.T) {
	resp := newResponse(http.StatusOK, `not json at all`)
	assert.NoError(t, printJSONResponse(resp))
}
