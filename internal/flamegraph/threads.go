package flamegraph

import (
	"sort"

	"github.com/danr/processor/internal/profile"
)

type (
	StateCount struct {
		Count int    `json:"count"`
		State string `json:"state"`
	}

	ThreadStats struct {
		// AvgCPUUsage is nil when no sample reported a CPU usage.
		AvgCPUUsage *float64     `json:"avgCpuUsage"`
		States      []StateCount `json:"states"`
		ThreadID    int          `json:"threadId"`
		ThreadName  string       `json:"threadName"`
	}
)

// ThreadSummary returns per thread statistics in the order threads were
// first seen.
func ThreadSummary(samples []profile.Sample) []ThreadStats {
	type accumulator struct {
		cpuSum     float64
		cpuSamples int
		states     map[string]int
		stats      ThreadStats
	}
	threads := make(map[profile.ThreadKey]*accumulator)
	order := make([]profile.ThreadKey, 0)

	for _, s := range samples {
		for _, t := range s.Threads {
			key := t.Key()
			acc, exists := threads[key]
			if !exists {
				acc = &accumulator{
					states: make(map[string]int),
					stats: ThreadStats{
						ThreadID:   t.ThreadID,
						ThreadName: t.ThreadName,
					},
				}
				threads[key] = acc
				order = append(order, key)
			}
			if t.CPUTime != nil && t.CPUTime.CPUUsagePercent != nil {
				acc.cpuSum += *t.CPUTime.CPUUsagePercent
				acc.cpuSamples++
			}
			acc.states[t.State]++
		}
	}

	summary := make([]ThreadStats, 0, len(order))
	for _, key := range order {
		acc := threads[key]
		stats := acc.stats
		if acc.cpuSamples > 0 {
			avg := acc.cpuSum / float64(acc.cpuSamples)
			stats.AvgCPUUsage = &avg
		}
		stats.States = make([]StateCount, 0, len(acc.states))
		for state, count := range acc.states {
			stats.States = append(stats.States, StateCount{Count: count, State: state})
		}
		sort.Slice(stats.States, func(i, j int) bool {
			if stats.States[i].Count == stats.States[j].Count {
				return stats.States[i].State < stats.States[j].State
			}
			return stats.States[i].Count > stats.States[j].Count
		})
		summary = append(summary, stats)
	}
	return summary
}
