package timeutil

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMillisUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Millis
	}{
		{name: "number", raw: `1675277158123`, want: 1675277158123},
		{name: "float number", raw: `1675277158123.0`, want: 1675277158123},
		{name: "rfc3339", raw: `"2023-02-01T18:45:58.123Z"`, want: 1675277158123},
		{name: "offset", raw: `"2023-02-01T19:45:58.123+01:00"`, want: 1675277158123},
		{name: "null", raw: `null`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Millis
			if err := json.Unmarshal([]byte(tt.raw), &m); err != nil {
				t.Fatal(err)
			}
			if m != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, m)
			}
		})
	}

	var m Millis
	if err := json.Unmarshal([]byte(`"yesterday"`), &m); err == nil {
		t.Fatal("expected an error for an invalid date")
	}
}

func TestMillisMarshal(t *testing.T) {
	b, err := json.Marshal(struct {
		Timestamp Millis `json:"timestamp"`
	}{Timestamp: 1675277158123})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"timestamp":1675277158123}` {
		t.Fatalf("unexpected encoding %s", b)
	}
	if !Millis(1675277158123).Time().Equal(time.Date(2023, 2, 1, 18, 45, 58, 123000000, time.UTC)) {
		t.Fatalf("unexpected time %v", Millis(1675277158123).Time())
	}
}
