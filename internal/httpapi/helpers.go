package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

func zapErr(err error) zap.Field { return zap.Error(err) }

// decodeJSONOrForm decodes a JSON body into dst when present, falling
// back to coin_pair/enabled form fields (query or url-encoded body)
// for callers that post plain forms instead of JSON.
func decodeJSONOrForm(r *http.Request, dst any) error {
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("invalid request body: %w", err)
		}
		if len(raw) > 0 && json.Unmarshal(raw, dst) == nil {
			return nil
		}
		// Leave the body readable for ParseForm.
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	switch v := dst.(type) {
	case *struct {
		CoinPair string `json:"coin_pair"`
		Enabled  *bool  `json:"enabled"`
	}:
		v.CoinPair = formValue(r, "coin_pair")
		if raw := formValue(r, "enabled"); raw != "" {
			b := raw == "true" || raw == "1"
			v.Enabled = &b
		}
	case *struct {
		CoinPair string `json:"coin_pair"`
		Enabled  bool   `json:"enabled"`
	}:
		v.CoinPair = formValue(r, "coin_pair")
		v.Enabled = formValue(r, "enabled") == "true" || formValue(r, "enabled") == "1"
	case *struct {
		CoinPair string `json:"coin_pair"`
	}:
		v.CoinPair = formValue(r, "coin_pair")
	}
	return nil
}

func formValue(r *http.Request, key string) string {
	if v := r.Form.Get(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

// apiError is a boundary-level error with its HTTP status already
// decided: validation failures are 400-class, downstream core errors
// are 500-class.
type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return e.Msg }

func badRequest(msg string) *apiError  { return &apiError{Status: http.StatusBadRequest, Msg: msg} }
func serverError(msg string) *apiError { return &apiError{Status: http.StatusInternalServerError, Msg: msg} }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "code": status, "message": msg})
}

func writeAPIError(w http.ResponseWriter, err *apiError) {
	writeError(w, err.Status, err.Msg)
}

// formatTimestamp renders an epoch-ms timestamp as a human-readable
// local time, matching the watch-pairs listing's display fields.
func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
