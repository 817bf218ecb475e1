package flamegraph

import (
	"sort"

	"github.com/danr/processor/internal/frame"
	"github.com/danr/processor/internal/packageutil"
	"github.com/danr/processor/internal/profile"
)

type (
	Function struct {
		Count         int     `json:"count"`
		IsApplication bool    `json:"isApplication"`
		Name          string  `json:"name"`
		Percentage    float64 `json:"percentage"`
	}

	NativeFunction struct {
		AvgPercentage float64 `json:"avgPercentage"`
		DSO           string  `json:"dso"`
		Function      string  `json:"function"`
		SampleCount   int     `json:"sampleCount"`
	}
)

// TopFunctions counts every frame of every thread. The percentage is relative
// to the total number of frames seen. A limit of 0 or less returns all of them.
func TopFunctions(samples []profile.Sample, limit int) []Function {
	counts := make(map[string]int)
	var total int
	for _, s := range samples {
		for _, t := range s.Threads {
			for _, f := range t.StackFrames {
				counts[frame.CleanName(f)]++
				total++
			}
		}
	}

	functions := make([]Function, 0, len(counts))
	for name, count := range counts {
		functions = append(functions, Function{
			Count:         count,
			IsApplication: packageutil.IsAndroidApplicationFrame(name),
			Name:          name,
			Percentage:    float64(count) / float64(total) * 100,
		})
	}
	sort.Slice(functions, func(i, j int) bool {
		if functions[i].Count == functions[j].Count {
			return functions[i].Name < functions[j].Name
		}
		return functions[i].Count > functions[j].Count
	})
	if limit > 0 && len(functions) > limit {
		functions = functions[:limit]
	}
	return functions
}

// NativeFunctions reads simpleperf samples and averages the reported
// percentage of each function per shared object.
func NativeFunctions(samples []profile.Sample, limit int) []NativeFunction {
	type key struct {
		dso      string
		function string
	}
	type sum struct {
		count      int
		percentage float64
	}
	sums := make(map[key]*sum)
	order := make([]key, 0)
	for _, s := range samples {
		for _, t := range s.Threads {
			n, ok := profile.NativeFunctionFromSnapshot(t)
			if !ok {
				continue
			}
			k := key{dso: n.DSO, function: n.Function}
			v, exists := sums[k]
			if !exists {
				v = &sum{}
				sums[k] = v
				order = append(order, k)
			}
			v.count++
			v.percentage += n.Percentage
		}
	}

	functions := make([]NativeFunction, 0, len(order))
	for _, k := range order {
		v := sums[k]
		functions = append(functions, NativeFunction{
			AvgPercentage: v.percentage / float64(v.count),
			DSO:           k.dso,
			Function:      k.function,
			SampleCount:   v.count,
		})
	}
	sort.SliceStable(functions, func(i, j int) bool {
		return functions[i].AvgPercentage > functions[j].AvgPercentage
	})
	if limit > 0 && len(functions) > limit {
		functions = functions[:limit]
	}
	return functions
}
