package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob/memblob"

	"github.com/danr/processor/internal/anr"
	"github.com/danr/processor/internal/chrometrace"
	"github.com/danr/processor/internal/device"
	"github.com/danr/processor/internal/metrics"
	"github.com/danr/processor/internal/session"
)

type KafkaWriterMock struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (k *KafkaWriterMock) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.messages = append(k.messages, msgs...)
	return nil
}

func (k *KafkaWriterMock) Close() error {
	return nil
}

type result struct {
	Data    jsoniter.RawMessage `json:"data"`
	Message string              `json:"message"`
	Success bool                `json:"success"`
}

func newTestEnvironment(t *testing.T) (*environment, http.Handler, *KafkaWriterMock) {
	t.Helper()
	writer := &KafkaWriterMock{}
	bucket := memblob.OpenBucket(nil)
	registry := prometheus.NewRegistry()
	e := &environment{
		anrWriter: writer,
		bucket:    bucket,
		clock:     func() time.Time { return time.Unix(1700000000, 0).UTC() },
		config: ServiceConfig{
			ANRGroupsKafkaTopic: "anr-groups",
			MaxUploadBytes:      1 << 20,
			SpanGapMultiplier:   chrometrace.DefaultGapMultiplier,
		},
		devices: device.NewMemoryRegistry(),
		grouper: anr.NewGrouper(anr.NewMemoryRepository(), anr.WithNotifier(anr.KafkaNotifier{
			Topic:  "anr-groups",
			Writer: writer,
		})),
		metrics:  metrics.New(registry),
		registry: registry,
		sessions: session.NewStore(bucket),
	}
	router, err := e.newRouter()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = bucket.Close()
	})
	return e, router, writer
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, result) {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var res result
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &res)
	}
	return w, res
}

func TestANRRoutes(t *testing.T) {
	_, h, writer := newTestEnvironment(t)

	report := []byte(`{
		"timestamp": 1700000000000,
		"duration": 5000,
		"mainThread": {"name": "main", "id": 1, "state": "BLOCKED", "isMainThread": true,
			"stackTrace": ["at com.example.Main.block(Main.java:12)", "at android.os.Looper.loop(Looper.java:223)"]},
		"deviceInfo": {"deviceId": "device-1"},
		"appInfo": {"packageName": "com.example.app"}
	}`)

	w, res := do(t, h, http.MethodPost, "/api/anrs", report)
	if w.Code != http.StatusCreated || !res.Success {
		t.Fatalf("expected the ANR to be created, got %d %s", w.Code, w.Body.String())
	}
	var created anr.Result
	if err := json.Unmarshal(res.Data, &created); err != nil {
		t.Fatal(err)
	}
	if !created.GroupCreated || created.Duplicate {
		t.Fatalf("unexpected result %+v", created)
	}

	w, res = do(t, h, http.MethodPost, "/api/anrs", report)
	if w.Code != http.StatusOK {
		t.Fatalf("expected a duplicate, got %d %s", w.Code, w.Body.String())
	}
	var duplicate anr.Result
	if err := json.Unmarshal(res.Data, &duplicate); err != nil {
		t.Fatal(err)
	}
	if !duplicate.Duplicate || duplicate.ANR.OccurrenceCount != 2 {
		t.Fatalf("unexpected result %+v", duplicate)
	}

	w, res = do(t, h, http.MethodPost, "/api/anrs", []byte(`{"timestamp": 1}`))
	if w.Code != http.StatusBadRequest || res.Success || res.Message == "" {
		t.Fatalf("expected a validation failure, got %d %s", w.Code, w.Body.String())
	}

	_, res = do(t, h, http.MethodGet, "/api/anr-groups", nil)
	var groups []anr.Group
	if err := json.Unmarshal(res.Data, &groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Fatalf("expected one group with one ANR, got %+v", groups)
	}

	_, res = do(t, h, http.MethodGet, "/api/anr-groups/"+groups[0].ID+"/anrs", nil)
	var members GroupMembersResponse
	if err := json.Unmarshal(res.Data, &members); err != nil {
		t.Fatal(err)
	}
	if len(members.ANRs) != 1 || members.ANRs[0].ID != created.ANR.ID {
		t.Fatalf("unexpected members %+v", members)
	}

	_, res = do(t, h, http.MethodGet, "/api/anrs?packageName=com.example.other", nil)
	if strings.Contains(string(res.Data), created.ANR.ID) {
		t.Fatalf("expected no ANRs for another package, got %s", res.Data)
	}

	w, _ = do(t, h, http.MethodDelete, "/api/anrs/"+created.ANR.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected the ANR to be deleted, got %d", w.Code)
	}
	w, res = do(t, h, http.MethodGet, "/api/anrs/"+created.ANR.ID, nil)
	if w.Code != http.StatusNotFound || res.Success {
		t.Fatalf("expected not found, got %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/anr-groups/"+groups[0].ID+"/anrs", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("empty group should be gone, got %d", w.Code)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one group event, got %d", len(writer.messages))
	}
}

func gzipped(t *testing.T, b []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestProfilingRoutes(t *testing.T) {
	_, h, _ := newTestEnvironment(t)

	upload := []byte(`{
		"sessionId": "java-1",
		"deviceId": "device-1",
		"samplingIntervalMs": 50,
		"startTime": 1000,
		"samples": [
			{"timestamp": 1000, "threads": [{"threadId": 1, "threadName": "main", "state": "RUNNABLE", "isMainThread": true,
				"stackFrames": ["com.x.B.b(B.java:2)", "com.x.A.a(A.java:1)"], "cpuTime": {"userTimeJiffies": 1, "kernelTimeJiffies": 0, "cpuUsagePercent": 50}}]},
			{"timestamp": 1050, "threads": [{"threadId": 1, "threadName": "main", "state": "BLOCKED", "isMainThread": true,
				"stackFrames": ["com.x.A.a(A.java:1)"]}]}
		]
	}`)
	w, res := do(t, h, http.MethodPost, "/api/profiling/sessions", gzipped(t, upload))
	if w.Code != http.StatusCreated || !res.Success {
		t.Fatalf("expected the session to be stored, got %d %s", w.Code, w.Body.String())
	}

	w, res = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/flamegraph?thread=MAIN", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	var fg struct {
		Threads []struct {
			Root struct {
				Name  string `json:"name"`
				Value int    `json:"value"`
			} `json:"root"`
			SampleCount int `json:"sampleCount"`
		} `json:"threads"`
		TotalSamples int `json:"totalSamples"`
	}
	if err := json.Unmarshal(res.Data, &fg); err != nil {
		t.Fatal(err)
	}
	if fg.TotalSamples != 2 || len(fg.Threads) != 1 || fg.Threads[0].Root.Value != 2 || fg.Threads[0].Root.Name != "root" {
		t.Fatalf("unexpected flame graph %s", res.Data)
	}

	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/top-functions?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected an invalid limit, got %d", w.Code)
	}
	_, res = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/top-functions?limit=1", nil)
	var top []struct {
		Count int    `json:"count"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(res.Data, &top); err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Name != "com.x.A.a" || top[0].Count != 2 {
		t.Fatalf("unexpected top functions %s", res.Data)
	}

	_, res = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/thread-summary", nil)
	if !strings.Contains(string(res.Data), `"avgCpuUsage":50`) {
		t.Fatalf("unexpected thread summary %s", res.Data)
	}

	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/perfetto?minified=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	var trace chrometrace.Trace
	if err := json.Unmarshal(w.Body.Bytes(), &trace); err != nil {
		t.Fatal(err)
	}
	if trace.DisplayTimeUnit != "ms" || trace.Metadata["sessionId"] != "java-1" {
		t.Fatalf("unexpected trace %s", w.Body.String())
	}
	var spans int
	for _, e := range trace.TraceEvents {
		if e.Ph == chrometrace.PhaseComplete && e.Name == "com.x.A.a" {
			spans++
			if e.Dur != 100000 {
				t.Fatalf("expected the span to cover both samples, got %d", e.Dur)
			}
		}
	}
	if spans != 1 {
		t.Fatalf("expected one merged span, got %d", spans)
	}

	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/java-1/raw-trace", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("java sessions have no raw trace, got %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/unknown/flamegraph", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", w.Code)
	}
}

func TestSimpleperfSessions(t *testing.T) {
	_, h, _ := newTestEnvironment(t)

	w, res := do(t, h, http.MethodPost, "/api/profiling/sessions", []byte(`{"sessionId":"native-1","profilerType":"simpleperf"}`))
	if w.Code != http.StatusBadRequest || res.Success {
		t.Fatalf("expected missing trace data to be rejected, got %d %s", w.Code, w.Body.String())
	}
	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/native-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("a rejected session shouldn't be stored, got %d", w.Code)
	}

	trace := []byte("perfetto trace bytes")
	body := `{"sessionId":"native-1","profilerType":"simpleperf","traceData":"` + base64.StdEncoding.EncodeToString(trace) + `",
		"samples":[{"timestamp":1,"threads":[{"threadId":0,"threadName":"libart.so","stackFrames":["art::Lock (12.5%)"]}]}]}`
	w, _ = do(t, h, http.MethodPost, "/api/profiling/sessions", []byte(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}

	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/native-1/raw-trace", nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), trace) {
		t.Fatalf("expected the raw trace back, got %d %q", w.Code, w.Body.Bytes())
	}

	_, res = do(t, h, http.MethodGet, "/api/profiling/sessions/native-1/top-functions", nil)
	if !strings.Contains(string(res.Data), `"dso":"libart.so"`) {
		t.Fatalf("expected native functions, got %s", res.Data)
	}

	_, res = do(t, h, http.MethodGet, "/api/profiling/sessions", nil)
	if !strings.Contains(string(res.Data), `"native-1"`) {
		t.Fatalf("expected the session to be listed, got %s", res.Data)
	}
	w, _ = do(t, h, http.MethodDelete, "/api/profiling/sessions/native-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/profiling/sessions/native-1/raw-trace", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", w.Code)
	}
}

func TestDeviceRoutes(t *testing.T) {
	_, h, _ := newTestEnvironment(t)

	w, _ := do(t, h, http.MethodPost, "/api/devices/pixel-1/commands", []byte(`{"type":"stress.cpu.start"}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected an unknown device, got %d", w.Code)
	}

	w, res := do(t, h, http.MethodPost, "/api/devices", []byte(`{"id":"pixel-1","model":"Pixel 8","hasRoot":true}`))
	if w.Code != http.StatusCreated || !res.Success {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}

	w, res = do(t, h, http.MethodPost, "/api/devices/pixel-1/commands", []byte(`{"type":"stress.cpu.start","params":{"threadCount":8}}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	var c struct {
		ID     string `json:"id"`
		Params struct {
			LoadPercentage int `json:"loadPercentage"`
			ThreadCount    int `json:"threadCount"`
		} `json:"params"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(res.Data, &c); err != nil {
		t.Fatal(err)
	}
	if c.ID == "" || c.Type != "stress.cpu.start" || c.Params.ThreadCount != 8 || c.Params.LoadPercentage != 100 {
		t.Fatalf("unexpected command %s", res.Data)
	}

	w, res = do(t, h, http.MethodPost, "/api/devices/pixel-1/commands", []byte(`{"type":"reboot"}`))
	if w.Code != http.StatusBadRequest || res.Success {
		t.Fatalf("expected an unknown command to be rejected, got %d", w.Code)
	}

	_, res = do(t, h, http.MethodGet, "/api/devices", nil)
	if !strings.Contains(string(res.Data), `"pixel-1"`) {
		t.Fatalf("expected the device to be listed, got %s", res.Data)
	}
	w, _ = do(t, h, http.MethodDelete, "/api/devices/pixel-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	w, _ = do(t, h, http.MethodDelete, "/api/devices/pixel-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, h, _ := newTestEnvironment(t)

	w, _ := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}

	do(t, h, http.MethodPost, "/api/anrs", []byte(`{"mainThread":{"name":"main","stackTrace":["at A.b()"]}}`))
	w, _ = do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `danr_anrs_processed_total{result="new"} 1`) {
		t.Fatalf("expected the ANR counter to be exposed, got %s", w.Body.String())
	}
}
