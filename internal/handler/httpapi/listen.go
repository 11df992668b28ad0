package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/domain/model"
)

var jsonpCallbackRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// Listen is the long-poll transport. It blocks up to
// broker.wake_connections_after for the first batch, then coalesces
// bursts within broker.drain_timeout, and returns the aggregated
// envelope list as JSON or JSONP.
func (a *API) Listen(w http.ResponseWriter, r *http.Request) {
	connID, err := uuid.Parse(r.URL.Query().Get("conn_id"))
	if err != nil {
		writeUnauthorized(w)
		return
	}
	conn, ok := a.broker.LookupConnection(connID)
	if !ok {
		writeUnauthorized(w)
		return
	}

	batch := conn.Poll(r.Context(),
		a.cfg.Broker.WakeConnectionsAfter,
		a.cfg.Broker.DrainTimeout,
	)
	conn.MarkActivity()
	if batch == nil {
		batch = []model.Envelope{}
	}

	if callback := r.URL.Query().Get("callback"); callback != "" {
		if !jsonpCallbackRe.MatchString(callback) {
			writeValidationErrors(w, ValidationErrors{"callback": "invalid callback name"})
			return
		}
		payload, err := json.Marshal(batch)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encoding failed"})
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "%s(%s);", callback, payload)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}
