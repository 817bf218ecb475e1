package profile

import (
	"regexp"
	"strconv"
	"strings"
)

// NativeFunctionSample is what a simpleperf ThreadSnapshot really carries.
type NativeFunctionSample struct {
	DSO        string  `json:"dso"`
	Function   string  `json:"function"`
	Percentage float64 `json:"percentage"`
}

var nativeFunctionRegexp = regexp.MustCompile(`^(.*)\s+\(([0-9]*\.?[0-9]+)%\)$`)

// ParseNativeFunction splits "<function> (<percentage>%)". Lines that don't
// match are returned as the function name with a zero percentage.
func ParseNativeFunction(line string) (string, float64) {
	line = strings.TrimSpace(line)
	m := nativeFunctionRegexp.FindStringSubmatch(line)
	if m == nil {
		return line, 0
	}
	pct, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return line, 0
	}
	return strings.TrimSpace(m[1]), pct
}

// NativeFunctionFromSnapshot reads a simpleperf snapshot. ok is false when the
// snapshot has no frame.
func NativeFunctionFromSnapshot(t ThreadSnapshot) (NativeFunctionSample, bool) {
	if len(t.StackFrames) == 0 {
		return NativeFunctionSample{}, false
	}
	fn, pct := ParseNativeFunction(t.StackFrames[0])
	return NativeFunctionSample{
		DSO:        t.ThreadName,
		Function:   fn,
		Percentage: pct,
	}, true
}

// Snapshot converts back to the wire representation.
func (n NativeFunctionSample) Snapshot(threadID int) ThreadSnapshot {
	return ThreadSnapshot{
		StackFrames: []string{n.Function + " (" + strconv.FormatFloat(n.Percentage, 'f', -1, 64) + "%)"},
		ThreadID:    threadID,
		ThreadName:  n.DSO,
	}
}
