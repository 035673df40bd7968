package ratelimit

import (
	"net/http"

	"apikey-gateway/middleware/ratelimit/domain"
)

// StatsHandler serve o snapshot {"allowed":{...},"blocked":{...}} do coletor.
func StatsHandler(stats domain.StatsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, stats.Snapshot())
	}
}
