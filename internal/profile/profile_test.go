package profile

import (
	"testing"

	"github.com/danr/processor/internal/testutil"
)

func TestParseNativeFunction(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		function string
		pct      float64
	}{
		{
			name:     "function with percentage",
			line:     "art::Thread::RunCheckpointFunction() (12.5%)",
			function: "art::Thread::RunCheckpointFunction()",
			pct:      12.5,
		},
		{
			name:     "integer percentage",
			line:     "memcpy (3%)",
			function: "memcpy",
			pct:      3,
		},
		{
			name:     "no percentage",
			line:     "  __epoll_pwait ",
			function: "__epoll_pwait",
			pct:      0,
		},
		{
			name:     "malformed percentage",
			line:     "foo (abc%)",
			function: "foo (abc%)",
			pct:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, pct := ParseNativeFunction(tt.line)
			if fn != tt.function || pct != tt.pct {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tt.function, tt.pct, fn, pct)
			}
		})
	}
}

func TestNativeFunctionRoundTrip(t *testing.T) {
	want := NativeFunctionSample{DSO: "libart.so", Function: "art::Monitor::Lock", Percentage: 4.25}
	got, ok := NativeFunctionFromSnapshot(want.Snapshot(7))
	if !ok {
		t.Fatal("expected a native function")
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if _, ok := NativeFunctionFromSnapshot(ThreadSnapshot{ThreadName: "libc.so"}); ok {
		t.Fatal("a snapshot without frames has no function")
	}
}

func TestSortByTimestamp(t *testing.T) {
	samples := []Sample{{Timestamp: 30}, {Timestamp: 10}, {Timestamp: 20}}
	sorted := SortByTimestamp(samples)
	want := []Sample{{Timestamp: 10}, {Timestamp: 20}, {Timestamp: 30}}
	if diff := testutil.Diff(sorted, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if samples[0].Timestamp != 30 {
		t.Fatal("input should not be reordered")
	}
}

func TestRootFirst(t *testing.T) {
	snapshot := ThreadSnapshot{StackFrames: []string{"leaf", "middle", "root"}}
	if diff := testutil.Diff(snapshot.RootFirst(), []string{"root", "middle", "leaf"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if snapshot.StackFrames[0] != "leaf" {
		t.Fatal("snapshot should not be modified")
	}
}
