package profile

import (
	"sort"
)

type (
	Type string

	CPUTime struct {
		CPUUsagePercent   *float64 `json:"cpuUsagePercent,omitempty"`
		KernelTimeJiffies int64    `json:"kernelTimeJiffies"`
		UserTimeJiffies   int64    `json:"userTimeJiffies"`
	}

	// ThreadSnapshot is the state of one thread at sampling time. StackFrames
	// are leaf first.
	//
	// For simpleperf sessions ThreadName holds a DSO name and StackFrames[0]
	// holds "<function> (<percentage>%)". Use NativeFunctionFromSnapshot to
	// read them.
	ThreadSnapshot struct {
		CPUTime      *CPUTime `json:"cpuTime,omitempty"`
		IsMainThread bool     `json:"isMainThread"`
		StackFrames  []string `json:"stackFrames"`
		State        string   `json:"state"`
		ThreadID     int      `json:"threadId"`
		ThreadName   string   `json:"threadName"`
	}

	SystemCPU struct {
		IowaitPercent float64 `json:"iowaitPercent"`
		SystemPercent float64 `json:"systemPercent"`
		UserPercent   float64 `json:"userPercent"`
	}

	Sample struct {
		SystemCPU *SystemCPU       `json:"systemCPU,omitempty"`
		Threads   []ThreadSnapshot `json:"threads"`
		// Timestamp is in milliseconds since the epoch.
		Timestamp int64 `json:"timestamp"`
	}

	Session struct {
		DeviceID           string `json:"deviceId"`
		EndTime            int64  `json:"endTime"`
		HasRoot            bool   `json:"hasRoot"`
		PackageName        string `json:"packageName,omitempty"`
		ProfilerType       Type   `json:"profilerType"`
		SamplingIntervalMs int64  `json:"samplingIntervalMs"`
		SessionID          string `json:"sessionId"`
		StartTime          int64  `json:"startTime"`
		TotalSamples       int    `json:"totalSamples"`
	}
)

const (
	Java       Type = "java"
	Simpleperf Type = "simpleperf"
)

func (t Type) Valid() bool {
	return t == Java || t == Simpleperf
}

// ThreadKey identifies a thread across samples.
type ThreadKey struct {
	ID   int
	Name string
}

func (t ThreadSnapshot) Key() ThreadKey {
	return ThreadKey{ID: t.ThreadID, Name: t.ThreadName}
}

// RootFirst returns a copy of the stack ordered from the outermost frame to
// the innermost one.
func (t ThreadSnapshot) RootFirst() []string {
	frames := make([]string, len(t.StackFrames))
	for i, f := range t.StackFrames {
		frames[len(frames)-1-i] = f
	}
	return frames
}

// SortByTimestamp returns the samples ordered by timestamp. The input is
// left untouched.
func SortByTimestamp(samples []Sample) []Sample {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}
