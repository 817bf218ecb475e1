package chrometrace

import (
	"sort"

	"github.com/danr/processor/internal/frame"
	"github.com/danr/processor/internal/profile"
)

type (
	Phase string

	Event struct {
		Args map[string]interface{} `json:"args,omitempty"`
		Cat  string                 `json:"cat,omitempty"`
		Dur  int64                  `json:"dur,omitempty"`
		Name string                 `json:"name"`
		Ph   Phase                  `json:"ph"`
		PID  int                    `json:"pid"`
		TID  int                    `json:"tid"`
		TS   int64                  `json:"ts"`
	}

	Trace struct {
		DisplayTimeUnit string                 `json:"displayTimeUnit"`
		Metadata        map[string]interface{} `json:"metadata"`
		TraceEvents     []Event                `json:"traceEvents"`
	}

	Options struct {
		// GapMultiplier is how many sampling intervals may separate two
		// sightings of a frame before they are reported as separate spans.
		GapMultiplier float64
	}

	spanKey struct {
		depth int
		name  string
		tid   int
	}

	span struct {
		lastTS  int64
		startTS int64
		state   string
	}
)

const (
	PhaseBegin    Phase = "B"
	PhaseEnd      Phase = "E"
	PhaseComplete Phase = "X"
	PhaseInstant  Phase = "I"
	PhaseCounter  Phase = "C"
	PhaseMetadata Phase = "M"

	DefaultGapMultiplier = 2.5

	// defaultSamplingIntervalMs keeps single sample spans from having a zero
	// duration when a session has no interval.
	defaultSamplingIntervalMs = 50

	categoryFunction = "function"
	processID        = 1

	counterThreadCPU = "CPU Usage"
	counterSystemCPU = "System CPU"
)

type exporter struct {
	active     map[spanKey]*span
	events     []Event
	gap        int64
	intervalUS int64
}

func (e *exporter) close(k spanKey, s *span) {
	e.events = append(e.events, Event{
		Args: map[string]interface{}{
			"depth": k.depth,
			"state": s.state,
		},
		Cat:  categoryFunction,
		Dur:  (s.lastTS - s.startTS) + e.intervalUS,
		Name: k.name,
		Ph:   PhaseComplete,
		PID:  processID,
		TID:  k.tid,
		TS:   s.startTS,
	})
	delete(e.active, k)
}

// closeWhere closes matching spans in a stable order.
func (e *exporter) closeWhere(match func(spanKey) bool) {
	keys := make([]spanKey, 0)
	for k := range e.active {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tid != keys[j].tid {
			return keys[i].tid < keys[j].tid
		}
		if keys[i].depth != keys[j].depth {
			return keys[i].depth < keys[j].depth
		}
		return keys[i].name < keys[j].name
	})
	for _, k := range keys {
		e.close(k, e.active[k])
	}
}

func (e *exporter) observe(k spanKey, ts int64, state string) {
	if s, exists := e.active[k]; exists {
		if ts-s.lastTS <= e.gap {
			s.lastTS = ts
			s.state = state
			return
		}
		e.close(k, s)
	}
	e.active[k] = &span{lastTS: ts, startTS: ts, state: state}
}

// Export turns sampled stacks into Chrome Trace events. Consecutive
// sightings of the same frame at the same depth of a thread are merged into
// one complete event. All timestamps are microseconds since the session
// start.
func Export(session profile.Session, samples []profile.Sample, opts Options) Trace {
	sorted := profile.SortByTimestamp(samples)
	multiplier := opts.GapMultiplier
	if multiplier <= 0 {
		multiplier = DefaultGapMultiplier
	}
	intervalMS := session.SamplingIntervalMs
	if intervalMS <= 0 {
		intervalMS = defaultSamplingIntervalMs
	}
	e := exporter{
		active:     make(map[spanKey]*span),
		events:     make([]Event, 0),
		intervalUS: intervalMS * 1000,
	}
	e.gap = int64(multiplier * float64(e.intervalUS))

	startMS := session.StartTime
	if len(sorted) > 0 && (startMS == 0 || sorted[0].Timestamp < startMS) {
		startMS = sorted[0].Timestamp
	}

	processName := session.PackageName
	if processName == "" {
		processName = "DANR " + session.SessionID
	}
	e.events = append(e.events, Event{
		Args: map[string]interface{}{"name": processName},
		Name: "process_name",
		Ph:   PhaseMetadata,
		PID:  processID,
	})

	named := make(map[int]struct{})
	for _, sample := range sorted {
		ts := (sample.Timestamp - startMS) * 1000
		seen := make(map[spanKey]struct{})
		for _, t := range sample.Threads {
			if _, exists := named[t.ThreadID]; !exists {
				named[t.ThreadID] = struct{}{}
				e.events = append(e.events, Event{
					Args: map[string]interface{}{"name": t.ThreadName},
					Name: "thread_name",
					Ph:   PhaseMetadata,
					PID:  processID,
					TID:  t.ThreadID,
				})
			}
			for depth, f := range t.RootFirst() {
				k := spanKey{depth: depth, name: frame.CleanName(f), tid: t.ThreadID}
				seen[k] = struct{}{}
				e.observe(k, ts, t.State)
			}
			if t.CPUTime != nil && t.CPUTime.CPUUsagePercent != nil {
				e.events = append(e.events, Event{
					Args: map[string]interface{}{"cpu": *t.CPUTime.CPUUsagePercent},
					Name: counterThreadCPU,
					Ph:   PhaseCounter,
					PID:  processID,
					TID:  t.ThreadID,
					TS:   ts,
				})
			}
		}
		if sample.SystemCPU != nil {
			e.events = append(e.events, Event{
				Args: map[string]interface{}{
					"iowait": sample.SystemCPU.IowaitPercent,
					"system": sample.SystemCPU.SystemPercent,
					"user":   sample.SystemCPU.UserPercent,
				},
				Name: counterSystemCPU,
				Ph:   PhaseCounter,
				PID:  processID,
				TS:   ts,
			})
		}
		e.closeWhere(func(k spanKey) bool {
			_, exists := seen[k]
			return !exists
		})
	}
	e.closeWhere(func(spanKey) bool { return true })

	sort.SliceStable(e.events, func(i, j int) bool {
		return e.events[i].TS < e.events[j].TS
	})

	totalSamples := session.TotalSamples
	if totalSamples == 0 {
		totalSamples = len(sorted)
	}

	return Trace{
		DisplayTimeUnit: "ms",
		Metadata: map[string]interface{}{
			"deviceId":           session.DeviceID,
			"hasRoot":            session.HasRoot,
			"profilerType":       session.ProfilerType,
			"samplingIntervalMs": session.SamplingIntervalMs,
			"sessionId":          session.SessionID,
			"totalSamples":       totalSamples,
		},
		TraceEvents: e.events,
	}
}
