package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/profile"
	"github.com/danr/processor/internal/storageutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sessionsPrefix = "sessions/"

	metadataObject = "session.json"
	samplesObject  = "samples.json.gz"
	traceObject    = "trace.perfetto"
)

// Store persists sessions and their payloads in a bucket.
type Store struct {
	bucket *blob.Bucket
}

func NewStore(b *blob.Bucket) *Store {
	return &Store{bucket: b}
}

func objectName(sessionID, object string) string {
	return sessionsPrefix + path.Join(sessionID, object)
}

// Ingest persists the payload first and the session metadata last, so a
// readable session always has its data.
func (s *Store) Ingest(ctx context.Context, u *Upload) error {
	id := u.Session.SessionID
	if u.Session.ProfilerType == profile.Simpleperf {
		if len(u.TraceData) == 0 {
			return fmt.Errorf("session: %w: simpleperf session %s", errorutil.ErrMissingTraceData, id)
		}
		if err := s.SaveRawTrace(ctx, id, u.TraceData); err != nil {
			return err
		}
	}
	if len(u.Samples) > 0 || u.Session.ProfilerType != profile.Simpleperf {
		if err := s.SaveSamples(ctx, id, u.Samples); err != nil {
			return err
		}
	}
	return s.SaveSession(ctx, u.Session)
}

func (s *Store) SaveSession(ctx context.Context, p profile.Session) error {
	return storageutil.CompressedWrite(ctx, s.bucket, objectName(p.SessionID, metadataObject), p)
}

// LoadSession returns an error wrapping errorutil.ErrNotFound for unknown sessions.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (profile.Session, error) {
	var p profile.Session
	err := storageutil.UnmarshalCompressed(ctx, s.bucket, objectName(sessionID, metadataObject), &p)
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			return profile.Session{}, fmt.Errorf("session: %w: %s", errorutil.ErrNotFound, sessionID)
		}
		return profile.Session{}, err
	}
	return p, nil
}

func (s *Store) SaveSamples(ctx context.Context, sessionID string, samples []profile.Sample) error {
	if samples == nil {
		samples = []profile.Sample{}
	}
	return storageutil.CompressedWrite(ctx, s.bucket, objectName(sessionID, samplesObject), samples)
}

// LoadSamples returns an empty slice when nothing was stored for the session.
func (s *Store) LoadSamples(ctx context.Context, sessionID string) ([]profile.Sample, error) {
	samples := []profile.Sample{}
	err := storageutil.UnmarshalCompressed(ctx, s.bucket, objectName(sessionID, samplesObject), &samples)
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			return []profile.Sample{}, nil
		}
		return nil, err
	}
	return samples, nil
}

func (s *Store) SaveRawTrace(ctx context.Context, sessionID string, data []byte) error {
	return storageutil.WriteRaw(ctx, s.bucket, objectName(sessionID, traceObject), data)
}

// LoadRawTrace returns false when no trace was stored for the session.
func (s *Store) LoadRawTrace(ctx context.Context, sessionID string) ([]byte, bool, error) {
	data, err := storageutil.ReadRaw(ctx, s.bucket, objectName(sessionID, traceObject))
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Sessions lists stored sessions, most recent first. An empty deviceID
// matches every device.
func (s *Store) Sessions(ctx context.Context, deviceID string) ([]profile.Session, error) {
	sessions := make([]profile.Session, 0)
	it := s.bucket.List(&blob.ListOptions{Prefix: sessionsPrefix, Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if !obj.IsDir {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, sessionsPrefix), "/")
		p, err := s.LoadSession(ctx, id)
		if err != nil {
			if errors.Is(err, errorutil.ErrNotFound) {
				// payload written, metadata not yet
				continue
			}
			return nil, err
		}
		if deviceID != "" && p.DeviceID != deviceID {
			continue
		}
		sessions = append(sessions, p)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime > sessions[j].StartTime
	})
	return sessions, nil
}

// Delete removes the session and its payloads.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.LoadSession(ctx, sessionID); err != nil {
		return err
	}
	for _, object := range []string{traceObject, samplesObject, metadataObject} {
		err := s.bucket.Delete(ctx, objectName(sessionID, object))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}
