package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/danr/processor/internal/chrometrace"
	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/flamegraph"
	"github.com/danr/processor/internal/httputil"
	"github.com/danr/processor/internal/profile"
	"github.com/danr/processor/internal/session"
)

const defaultTopFunctionsLimit = 20

func (e *environment) postSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, r, fmt.Errorf("%w: %v", errorutil.ErrValidation, err))
		return
	}

	s = sentry.StartSpan(ctx, "json.unmarshal")
	s.Description = "Decode profiling session"
	upload, err := session.DecodeUpload(body)
	s.Finish()
	if err != nil {
		e.metrics.SessionIngested("unknown", err)
		log.Warn().Err(err).Msg("profiling session rejected")
		writeError(w, r, err)
		return
	}

	hub.Scope().SetTag("session_id", upload.Session.SessionID)
	hub.Scope().SetTag("profiler_type", string(upload.Session.ProfilerType))

	s = sentry.StartSpan(ctx, "blob.write")
	s.Description = "Write session to storage"
	err = e.sessions.Ingest(ctx, upload)
	s.Finish()
	e.metrics.SessionIngested(string(upload.Session.ProfilerType), err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if upload.Session.DeviceID != "" {
		_ = e.devices.Touch(upload.Session.DeviceID, e.now())
	}
	httputil.WriteData(w, http.StatusCreated, upload.Session)
}

func (e *environment) getSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := e.sessions.Sessions(r.Context(), r.URL.Query().Get("deviceId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, sessions)
}

func (e *environment) getSession(w http.ResponseWriter, r *http.Request) {
	p, ok := e.loadSession(w, r)
	if !ok {
		return
	}
	httputil.WriteData(w, http.StatusOK, p)
}

func (e *environment) deleteSession(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	id := ps.ByName("session_id")
	if err := e.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]string{"sessionId": id})
}

// loadSession writes the error response itself when ok is false.
func (e *environment) loadSession(w http.ResponseWriter, r *http.Request) (profile.Session, bool) {
	ctx := r.Context()
	ps := httprouter.ParamsFromContext(ctx)
	id := ps.ByName("session_id")
	hubFromContext(ctx).Scope().SetTag("session_id", id)

	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read session metadata"
	p, err := e.sessions.LoadSession(ctx, id)
	s.Finish()
	if err != nil {
		writeError(w, r, err)
		return profile.Session{}, false
	}
	return p, true
}

// loadSamples writes the error response itself when ok is false.
func (e *environment) loadSamples(w http.ResponseWriter, r *http.Request) (profile.Session, []profile.Sample, bool) {
	p, ok := e.loadSession(w, r)
	if !ok {
		return profile.Session{}, nil, false
	}
	ctx := r.Context()
	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read session samples"
	samples, err := e.sessions.LoadSamples(ctx, p.SessionID)
	s.Finish()
	if err != nil {
		writeError(w, r, err)
		return profile.Session{}, nil, false
	}
	return p, samples, true
}

func (e *environment) getFlamegraph(w http.ResponseWriter, r *http.Request) {
	p, samples, ok := e.loadSamples(w, r)
	if !ok {
		return
	}
	s := sentry.StartSpan(r.Context(), "processing")
	s.Description = "Aggregate flame graph"
	o := flamegraph.Aggregate(p.SessionID, samples, r.URL.Query().Get("thread"))
	s.Finish()
	e.metrics.ExportServed("flamegraph")
	httputil.WriteData(w, http.StatusOK, o)
}

func (e *environment) getTopFunctions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.PositiveIntQueryParameter(r, "limit", defaultTopFunctionsLimit)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, samples, ok := e.loadSamples(w, r)
	if !ok {
		return
	}
	e.metrics.ExportServed("top_functions")
	if p.ProfilerType == profile.Simpleperf {
		httputil.WriteData(w, http.StatusOK, flamegraph.NativeFunctions(samples, limit))
		return
	}
	httputil.WriteData(w, http.StatusOK, flamegraph.TopFunctions(samples, limit))
}

func (e *environment) getThreadSummary(w http.ResponseWriter, r *http.Request) {
	_, samples, ok := e.loadSamples(w, r)
	if !ok {
		return
	}
	e.metrics.ExportServed("thread_summary")
	httputil.WriteData(w, http.StatusOK, flamegraph.ThreadSummary(samples))
}

func (e *environment) getPerfetto(w http.ResponseWriter, r *http.Request) {
	minified, err := httputil.BoolQueryParameter(r, "minified")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, samples, ok := e.loadSamples(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Export Chrome trace"
	trace := chrometrace.Export(p, samples, chrometrace.Options{GapMultiplier: e.config.SpanGapMultiplier})
	s.Finish()

	s = sentry.StartSpan(ctx, "json.marshal")
	s.Description = "Marshal Chrome trace"
	b, err := chrometrace.Marshal(trace, minified)
	s.Finish()
	if err != nil {
		writeError(w, r, err)
		return
	}
	e.metrics.ExportServed("perfetto")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.SessionID+".json"))
	_, _ = w.Write(b)
}

func (e *environment) getRawTrace(w http.ResponseWriter, r *http.Request) {
	p, ok := e.loadSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read raw trace"
	data, exists, err := e.sessions.LoadRawTrace(ctx, p.SessionID)
	s.Finish()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("no raw trace for session %s", p.SessionID))
		return
	}
	e.metrics.ExportServed("raw_trace")

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.SessionID+".perfetto-trace"))
	_, _ = w.Write(data)
}
