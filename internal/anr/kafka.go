package anr

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

type (
	KafkaWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// GroupEvent is the message published for every group change.
	GroupEvent struct {
		ANRID             string  `json:"anr_id"`
		Count             int     `json:"count"`
		DeviceID          string  `json:"device_id,omitempty"`
		GroupID           string  `json:"group_id"`
		PackageName       string  `json:"package_name,omitempty"`
		Similarity        float64 `json:"similarity"`
		StackTraceHash    string  `json:"stack_trace_hash"`
		StackTracePattern string  `json:"stack_trace_pattern"`
		Timestamp         int64   `json:"timestamp"`
		Type              string  `json:"type"`
	}

	// KafkaNotifier publishes group changes to a topic, keyed by group ID.
	KafkaNotifier struct {
		Topic  string
		Writer KafkaWriter
	}
)

const (
	GroupEventCreated  = "group_created"
	GroupEventAttached = "anr_attached"
)

func newGroupEvent(eventType string, g Group, a ANR, similarity float64) GroupEvent {
	return GroupEvent{
		ANRID:             a.ID,
		Count:             g.Count,
		DeviceID:          a.DeviceInfo.DeviceID,
		GroupID:           g.ID,
		PackageName:       a.AppInfo.PackageName,
		Similarity:        similarity,
		StackTraceHash:    g.StackTraceHash,
		StackTracePattern: g.StackTracePattern,
		Timestamp:         g.LastSeen.Unix(),
		Type:              eventType,
	}
}

func (n KafkaNotifier) publish(ctx context.Context, e GroupEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.Writer.WriteMessages(ctx, kafka.Message{
		Topic: n.Topic,
		Key:   []byte(e.GroupID),
		Value: b,
	})
}

func (n KafkaNotifier) GroupCreated(ctx context.Context, g Group, a ANR) error {
	return n.publish(ctx, newGroupEvent(GroupEventCreated, g, a, g.Similarity))
}

func (n KafkaNotifier) ANRAttached(ctx context.Context, g Group, a ANR, similarity float64) error {
	return n.publish(ctx, newGroupEvent(GroupEventAttached, g, a, similarity))
}
