package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body. Encode failures after the
// header is out can only be logged by the caller's middleware.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the error envelope the front-end expects:
// {"detail": "..."}.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeJSON reads the request body into v. Unknown fields pass through;
// clients routinely send extra UI state.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// nullable maps empty strings onto JSON null so optional URL and name
// fields keep their original wire shape.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
