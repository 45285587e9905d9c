package util

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/portfolio"
	"github.com/dense-analysis/papertrade/internal/quote"
)

func TestRespondEngineErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{portfolio.ErrInvalidInput, http.StatusBadRequest},
		{quote.ErrUnknownSymbol, http.StatusBadRequest},
		{portfolio.ErrInsufficientFunds, http.StatusBadRequest},
		{portfolio.ErrInsufficientShares, http.StatusBadRequest},
		{fmt.Errorf("iex: %w", quote.ErrUnavailable), http.StatusServiceUnavailable},
		{ledger.ErrNotFound, http.StatusForbidden},
		{fmt.Errorf("%w: %w", ledger.ErrStorage, errors.New("disk full")), http.StatusInternalServerError},
	}

	for _, testCase := range cases {
		recorder := httptest.NewRecorder()
		RespondEngineError(recorder, testCase.err)
		assert.Equal(t, testCase.status, recorder.Code, testCase.err.Error())
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	handler := LogRequests(NoCache(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusTeapot)
	})))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, recorder.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", recorder.Header().Get("Cache-Control"))
	assert.Equal(t, "0", recorder.Header().Get("Expires"))
	assert.Equal(t, "no-cache", recorder.Header().Get("Pragma"))
	assert.Len(t, recorder.Header().Get("X-Request-ID"), 36)
}
