package chrometrace

import (
	"github.com/goccy/go-json"
)

// Marshal serializes the trace. The minified form only drops whitespace.
func Marshal(t Trace, minified bool) ([]byte, error) {
	if minified {
		return json.Marshal(t)
	}
	return json.MarshalIndent(t, "", "  ")
}
