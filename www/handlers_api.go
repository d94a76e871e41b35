package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"guesttrack/orderapi"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// apiListOrders returns the current best-known snapshots of all tracked
// orders, in tracking order.
func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// apiListTracked returns the tracked order ids.
func (h *Handlers) apiListTracked(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Tracked())
}

// apiTrackOrder begins tracking an order.
func (h *Handlers) apiTrackOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id required")
		return
	}

	err := h.engine.Track(orderID)
	switch {
	case errors.Is(err, orderapi.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "tracking", "order_id": orderID})
	}
}

// apiUntrackOrder stops tracking an order.
func (h *Handlers) apiUntrackOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id required")
		return
	}
	h.engine.Untrack(orderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "untracked", "order_id": orderID})
}
