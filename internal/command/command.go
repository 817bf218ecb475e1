package command

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/danr/processor/internal/errorutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Kind string

const (
	StressCPUStart     Kind = "stress.cpu.start"
	StressCPUStop      Kind = "stress.cpu.stop"
	StressMemoryStart  Kind = "stress.memory.start"
	StressMemoryStop   Kind = "stress.memory.stop"
	StressDiskStart    Kind = "stress.disk.start"
	StressDiskStop     Kind = "stress.disk.stop"
	StressNetworkStart Kind = "stress.network.start"
	StressNetworkStop  Kind = "stress.network.stop"
	StressThermalStart Kind = "stress.thermal.start"
	StressThermalStop  Kind = "stress.thermal.stop"
	StressStopAll      Kind = "stress.stop_all"
	CPUFrequencySet    Kind = "cpu_freq.set"
	CPUFrequencyReset  Kind = "cpu_freq.restore"
	ProfilingStart     Kind = "profiling.start"
	ProfilingStop      Kind = "profiling.stop"
)

// DefaultDurationMs is how long stress tests run unless told otherwise.
const DefaultDurationMs = 300000

type (
	// Params is implemented by the parameter struct of every command kind
	// that takes parameters.
	Params interface {
		Validate() error
	}

	Command struct {
		ID     string `json:"id,omitempty"`
		Kind   Kind   `json:"type"`
		Params Params `json:"params,omitempty"`
	}

	CPUStress struct {
		DurationMs     int64 `json:"durationMs"`
		LoadPercentage int   `json:"loadPercentage"`
		PinToCores     bool  `json:"pinToCores"`
		TargetCores    []int `json:"targetCores,omitempty"`
		ThreadCount    int   `json:"threadCount"`
	}

	MemoryStress struct {
		ChunkSizeMB      int   `json:"chunkSizeMB"`
		DurationMs       int64 `json:"durationMs"`
		LockMemory       bool  `json:"lockMemory"`
		TargetFreeMB     int   `json:"targetFreeMB"`
		UseAnonymousMmap bool  `json:"useAnonymousMmap"`
	}

	DiskStress struct {
		ChunkSizeKB    int    `json:"chunkSizeKB"`
		DurationMs     int64  `json:"durationMs"`
		SyncWrites     bool   `json:"syncWrites"`
		TestPath       string `json:"testPath"`
		ThroughputMBps int    `json:"throughputMBps"`
		UseDirectIO    bool   `json:"useDirectIO"`
	}

	NetworkStress struct {
		BandwidthLimitKbps int    `json:"bandwidthLimitKbps"`
		DurationMs         int64  `json:"durationMs"`
		LatencyMs          int    `json:"latencyMs"`
		PacketLossPercent  int    `json:"packetLossPercent"`
		TargetInterface    string `json:"targetInterface"`
	}

	ThermalStress struct {
		DisableThermalThrottling bool  `json:"disableThermalThrottling"`
		DurationMs               int64 `json:"durationMs"`
		ForceAllCoresOnline      bool  `json:"forceAllCoresOnline"`
		MaxFrequencyPercent      int   `json:"maxFrequencyPercent"`
	}

	CPUFrequency struct {
		AutoRestoreMs int64 `json:"autoRestoreMs"`
		Cores         []int `json:"cores,omitempty"`
		// Frequency is in kHz.
		Frequency int64 `json:"frequency"`
	}

	Profiling struct {
		DurationMs         int64  `json:"durationMs"`
		PackageName        string `json:"packageName,omitempty"`
		ProfilerType       string `json:"profilerType"`
		SamplingIntervalMs int64  `json:"samplingIntervalMs"`
	}

	envelope struct {
		ID     string              `json:"id"`
		Kind   Kind                `json:"type"`
		Params jsoniter.RawMessage `json:"params"`
	}
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("command: %w: %s", errorutil.ErrValidation, fmt.Sprintf(format, args...))
}

func checkDuration(d int64) error {
	if d <= 0 {
		return invalid("durationMs must be positive, got %d", d)
	}
	return nil
}

func checkPercent(name string, v, min int) error {
	if v < min || v > 100 {
		return invalid("%s must be between %d and 100, got %d", name, min, v)
	}
	return nil
}

func (p CPUStress) Validate() error {
	if p.ThreadCount <= 0 {
		return invalid("threadCount must be positive, got %d", p.ThreadCount)
	}
	if err := checkPercent("loadPercentage", p.LoadPercentage, 1); err != nil {
		return err
	}
	return checkDuration(p.DurationMs)
}

func (p MemoryStress) Validate() error {
	if p.TargetFreeMB < 0 {
		return invalid("targetFreeMB can't be negative, got %d", p.TargetFreeMB)
	}
	if p.ChunkSizeMB <= 0 {
		return invalid("chunkSizeMB must be positive, got %d", p.ChunkSizeMB)
	}
	return checkDuration(p.DurationMs)
}

func (p DiskStress) Validate() error {
	if p.ThroughputMBps <= 0 {
		return invalid("throughputMBps must be positive, got %d", p.ThroughputMBps)
	}
	if p.ChunkSizeKB <= 0 {
		return invalid("chunkSizeKB must be positive, got %d", p.ChunkSizeKB)
	}
	if p.TestPath == "" {
		return invalid("testPath is required")
	}
	return checkDuration(p.DurationMs)
}

func (p NetworkStress) Validate() error {
	if p.BandwidthLimitKbps < 0 || p.LatencyMs < 0 {
		return invalid("bandwidthLimitKbps and latencyMs can't be negative")
	}
	if err := checkPercent("packetLossPercent", p.PacketLossPercent, 0); err != nil {
		return err
	}
	if p.TargetInterface == "" {
		return invalid("targetInterface is required")
	}
	return checkDuration(p.DurationMs)
}

func (p ThermalStress) Validate() error {
	if err := checkPercent("maxFrequencyPercent", p.MaxFrequencyPercent, 1); err != nil {
		return err
	}
	return checkDuration(p.DurationMs)
}

func (p CPUFrequency) Validate() error {
	if p.Frequency <= 0 {
		return invalid("frequency must be positive, got %d", p.Frequency)
	}
	if p.AutoRestoreMs < 0 {
		return invalid("autoRestoreMs can't be negative, got %d", p.AutoRestoreMs)
	}
	return nil
}

func (p Profiling) Validate() error {
	if p.ProfilerType != "java" && p.ProfilerType != "simpleperf" {
		return invalid("unknown profiler type %q", p.ProfilerType)
	}
	if p.SamplingIntervalMs <= 0 {
		return invalid("samplingIntervalMs must be positive, got %d", p.SamplingIntervalMs)
	}
	if p.DurationMs < 0 {
		return invalid("durationMs can't be negative, got %d", p.DurationMs)
	}
	return nil
}

// defaultParams returns the parameters of a kind with the values devices
// apply when a field is omitted. The bool is false for unknown kinds.
func defaultParams(k Kind) (Params, bool) {
	switch k {
	case StressCPUStart:
		return &CPUStress{DurationMs: DefaultDurationMs, LoadPercentage: 100, ThreadCount: 4}, true
	case StressMemoryStart:
		return &MemoryStress{ChunkSizeMB: 10, DurationMs: DefaultDurationMs, TargetFreeMB: 100, UseAnonymousMmap: true}, true
	case StressDiskStart:
		return &DiskStress{ChunkSizeKB: 100, DurationMs: DefaultDurationMs, TestPath: "/data/local/tmp/danr_stress", ThroughputMBps: 5}, true
	case StressNetworkStart:
		return &NetworkStress{DurationMs: DefaultDurationMs, TargetInterface: "wlan0"}, true
	case StressThermalStart:
		return &ThermalStress{DurationMs: DefaultDurationMs, ForceAllCoresOnline: true, MaxFrequencyPercent: 100}, true
	case CPUFrequencySet:
		return &CPUFrequency{}, true
	case ProfilingStart:
		return &Profiling{ProfilerType: "java", SamplingIntervalMs: 50}, true
	case StressCPUStop, StressMemoryStop, StressDiskStop, StressNetworkStop,
		StressThermalStop, StressStopAll, CPUFrequencyReset, ProfilingStop:
		return nil, true
	}
	return nil, false
}

// Parse decodes and validates a command. Unknown kinds and invalid
// parameters are rejected with errorutil.ErrValidation.
func Parse(raw []byte) (Command, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Command{}, invalid("malformed command: %v", err)
	}
	if e.Kind == "" {
		return Command{}, invalid("command type is required")
	}
	params, known := defaultParams(e.Kind)
	if !known {
		return Command{}, invalid("unknown command type %q", e.Kind)
	}

	c := Command{ID: e.ID, Kind: e.Kind}
	if params == nil {
		return c, nil
	}
	if p := bytes.TrimSpace(e.Params); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		if err := json.Unmarshal(p, params); err != nil {
			return Command{}, invalid("malformed %s params: %v", e.Kind, err)
		}
	}
	if err := params.Validate(); err != nil {
		return Command{}, err
	}
	c.Params = deref(params)
	return c, nil
}

func deref(p Params) Params {
	switch v := p.(type) {
	case *CPUStress:
		return *v
	case *MemoryStress:
		return *v
	case *DiskStress:
		return *v
	case *NetworkStress:
		return *v
	case *ThermalStress:
		return *v
	case *CPUFrequency:
		return *v
	case *Profiling:
		return *v
	}
	return p
}
