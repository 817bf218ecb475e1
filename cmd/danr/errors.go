package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/httputil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, errorutil.ErrMissingTraceData), errors.Is(err, errorutil.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errorutil.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with a failed result. Only unexpected errors are
// reported to Sentry.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		hubFromContext(r.Context()).CaptureException(err)
		log.Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	httputil.WriteError(w, status, err.Error())
}
