package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// RejectReason é o motivo de uma rejeição decidida localmente pelo dispatcher.
type RejectReason int

const (
	ReasonMissingCredential RejectReason = iota + 1
	ReasonInvalidCredential
	ReasonRateLimited
	ReasonInternal
)

func (r RejectReason) String() string {
	switch r {
	case ReasonMissingCredential:
		return "missing_credential"
	case ReasonInvalidCredential:
		return "invalid_credential"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

func (r RejectReason) Status() int {
	switch r {
	case ReasonMissingCredential:
		return http.StatusUnauthorized
	case ReasonInvalidCredential:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (r RejectReason) Message() string {
	switch r {
	case ReasonMissingCredential:
		return "Missing " + DefaultKeyHeader
	case ReasonInvalidCredential:
		return "Invalid API key"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type rateLimitedBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int64) {
	writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{Error: "rate_limited", RetryAfterSeconds: retryAfter})
}

// WriteJSON é exportado para outros adapters (ex: proxy) manterem o mesmo formato de erro.
func WriteJSON(w http.ResponseWriter, status int, v any) { writeJSON(w, status, v) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }
