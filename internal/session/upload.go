package session

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/profile"
	"github.com/danr/processor/internal/storageutil"
)

// DefaultSamplingIntervalMs is used when an upload doesn't state its interval.
const DefaultSamplingIntervalMs = 50

type (
	// Upload is a decoded and validated ingest payload. Java sessions carry
	// Samples, simpleperf sessions carry the raw Perfetto trace in TraceData.
	Upload struct {
		Samples   []profile.Sample
		Session   profile.Session
		TraceData []byte
	}

	uploadPayload struct {
		profile.Session

		Samples   []profile.Sample `json:"samples"`
		TraceData *string          `json:"traceData"`
	}
)

// DecodeUpload parses an ingest payload, gzip framed or not.
func DecodeUpload(body []byte) (*Upload, error) {
	var r io.Reader = bytes.NewReader(body)
	if storageutil.IsGzip(body) {
		zr, err := storageutil.NewDecompressingReader(r)
		if err != nil {
			return nil, fmt.Errorf("session: %w: invalid gzip payload: %v", errorutil.ErrValidation, err)
		}
		r = zr
	}

	var p uploadPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("session: %w: invalid payload: %v", errorutil.ErrValidation, err)
	}

	if p.ProfilerType == "" {
		p.ProfilerType = profile.Java
	}
	if !p.ProfilerType.Valid() {
		return nil, fmt.Errorf("session: %w: unknown profiler type %q", errorutil.ErrValidation, p.ProfilerType)
	}

	u := Upload{Session: p.Session}
	switch p.ProfilerType {
	case profile.Simpleperf:
		if p.TraceData == nil || strings.TrimSpace(*p.TraceData) == "" {
			return nil, fmt.Errorf("session: %w: simpleperf upload without traceData", errorutil.ErrMissingTraceData)
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*p.TraceData))
		if err != nil {
			return nil, fmt.Errorf("session: %w: traceData is not valid base64: %v", errorutil.ErrValidation, err)
		}
		u.TraceData = data
		u.Samples = p.Samples
	default:
		u.Samples = p.Samples
	}

	normalize(&u)
	return &u, nil
}

func normalize(u *Upload) {
	s := &u.Session
	if s.SessionID == "" {
		s.SessionID = uuid.New().String()
	}
	if s.SamplingIntervalMs <= 0 {
		s.SamplingIntervalMs = DefaultSamplingIntervalMs
	}
	if s.TotalSamples == 0 {
		s.TotalSamples = len(u.Samples)
	}
	for _, sample := range u.Samples {
		if s.StartTime == 0 || sample.Timestamp < s.StartTime {
			s.StartTime = sample.Timestamp
		}
		if sample.Timestamp > s.EndTime {
			s.EndTime = sample.Timestamp
		}
	}
}
