package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"

	"github.com/danr/processor/internal/anr"
	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/httputil"
)

type GroupMembersResponse struct {
	ANRs  []anr.ANR `json:"anrs"`
	Group anr.Group `json:"group"`
}

func (e *environment) postANR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errorutil.ErrValidation, err))
		return
	}

	s = sentry.StartSpan(ctx, "json.unmarshal")
	s.Description = "Unmarshal ANR report"
	var report anr.Report
	err = json.Unmarshal(body, &report)
	s.Finish()
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid ANR report: %v", errorutil.ErrValidation, err))
		return
	}

	s = sentry.StartSpan(ctx, "anr.process")
	s.Description = "Deduplicate and group ANR"
	res, err := e.grouper.Process(ctx, report)
	s.Finish()
	if err != nil {
		writeError(w, r, err)
		return
	}
	e.metrics.ANRProcessed(res.Duplicate, res.GroupCreated)

	hub.Scope().SetTag("anr_id", res.ANR.ID)
	hub.Scope().SetTag("group_id", res.Group.ID)

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteData(w, status, res)
}

func (e *environment) getANRs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	anrs, err := e.grouper.ANRs(r.Context(), anr.Filter{
		DeviceID:    q.Get("deviceId"),
		GroupID:     q.Get("groupId"),
		PackageName: q.Get("packageName"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, anrs)
}

func (e *environment) getANR(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	a, err := e.grouper.ANR(r.Context(), ps.ByName("anr_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, a)
}

func (e *environment) deleteANR(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	id := ps.ByName("anr_id")
	if err := e.grouper.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]string{"id": id})
}

func (e *environment) getANRGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := e.grouper.Groups(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, groups)
}

func (e *environment) getANRGroupMembers(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	group, members, err := e.grouper.GroupMembers(r.Context(), ps.ByName("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, GroupMembersResponse{ANRs: members, Group: group})
}
