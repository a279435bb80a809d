package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// queryAllowed reads an integer query parameter restricted to a whitelist.
// An absent parameter keeps the default; any other value is a caller error.
func queryAllowed(r *http.Request, key string, def int, allowed ...int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		for _, a := range allowed {
			if n == a {
				return n, nil
			}
		}
	}
	opts := make([]string, len(allowed))
	for i, a := range allowed {
		opts[i] = strconv.Itoa(a)
	}
	return 0, fmt.Errorf("%s must be one of %s", key, strings.Join(opts, ", "))
}
