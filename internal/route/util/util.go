package util

import (
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/portfolio"
	"github.com/dense-analysis/papertrade/internal/quote"
	"github.com/dense-analysis/papertrade/internal/template"
)

// Page holds the fields every page template reads.
type Page struct {
	LoggedIn bool
}

type apologyPageData struct {
	Page
	Status  int
	Message string
}

// RespondApology renders an error page with a message for the user.
func RespondApology(writer http.ResponseWriter, loggedIn bool, status int, message string) {
	writer.WriteHeader(status)

	if err := template.Render(template.Apology, writer, apologyPageData{Page{loggedIn}, status, message}); err != nil {
		log.Error().Err(err).Msg("apology render failed")
	}
}

func RespondInternalServerError(writer http.ResponseWriter, err error) {
	writer.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(writer, "Internal Server Error\n")
	log.Error().Err(err).Msg("internal error")
}

func RespondValidationError(writer http.ResponseWriter, message string) {
	RespondApology(writer, true, http.StatusBadRequest, message)
}

// Render writes a page, logging template failures.
func Render(writer http.ResponseWriter, tmpl *htmltemplate.Template, data any) {
	if err := template.Render(tmpl, writer, data); err != nil {
		log.Error().Err(err).Msg("render failed")
	}
}

// RespondEngineError turns a trading error into a page for the user.
func RespondEngineError(writer http.ResponseWriter, err error) {
	message := portfolio.Message(err)

	switch {
	case errors.Is(err, portfolio.ErrInvalidInput),
		errors.Is(err, quote.ErrUnknownSymbol),
		errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInsufficientShares):
		RespondValidationError(writer, message)
	case errors.Is(err, quote.ErrUnavailable):
		log.Warn().Err(err).Msg("quote unavailable")
		RespondApology(writer, true, http.StatusServiceUnavailable, message)
	case errors.Is(err, ledger.ErrNotFound):
		RespondApology(writer, false, http.StatusForbidden, message)
	default:
		RespondInternalServerError(writer, err)
	}
}

// NoCache stops browsers caching any response.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		header := writer.Header()
		header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		header.Set("Expires", "0")
		header.Set("Pragma", "no-cache")
		next.ServeHTTP(writer, request)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(status int) {
	recorder.status = status
	recorder.ResponseWriter.WriteHeader(status)
}

// LogRequests logs every request with an ID that is also sent back in the
// X-Request-ID header.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		writer.Header().Set("X-Request-ID", requestID)
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		next.ServeHTTP(recorder, request)

		log.Info().
			Str("request_id", requestID).
			Str("method", request.Method).
			Str("path", request.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
