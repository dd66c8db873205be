package gateways

import "net/http"

// MergeHeaders folds header layers left to right into one header set.
// A later layer overrides an earlier one; an empty, "null" or "undefined"
// value removes the key instead of sending it.
func MergeHeaders(layers ...map[string]string) http.Header {
	merged := make(http.Header)
	for _, layer := range layers {
		for key, value := range layer {
			switch value {
			case "", "null", "undefined":
				merged.Del(key)
			default:
				merged.Set(key, value)
			}
		}
	}
	return merged
}
