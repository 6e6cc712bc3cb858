package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// getParam returns a trimmed path or query parameter. pat stores path
// parameters in the query with a leading colon; PathValue covers ServeMux.
func getParam(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	q := r.URL.Query()
	if val := q.Get(":" + name); val != "" {
		return strings.TrimSpace(val)
	}
	if val := q.Get(name); val != "" {
		return strings.TrimSpace(val)
	}
	return strings.TrimSpace(r.PathValue(name))
}

// queryInt falls back to def when the parameter is absent, malformed or negative.
func queryInt(r *http.Request, name string, def int) int {
	raw := getParam(r, name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// queryList splits a comma separated parameter, dropping empty entries.
func queryList(r *http.Request, name string) []string {
	raw := getParam(r, name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
