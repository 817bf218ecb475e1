package httputil

import (
	"fmt"
	"net/http"
	"strconv"
)

// PositiveIntQueryParameter reads an optional positive integer query
// parameter, returning fallback when it's absent.
func PositiveIntQueryParameter(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("expected %s to be a positive integer", key)
	}
	return v, nil
}

// BoolQueryParameter reads an optional boolean query parameter.
func BoolQueryParameter(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("expected %s to be a boolean", key)
	}
	return v, nil
}
