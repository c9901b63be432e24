package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wwcpsync/domain"
	"wwcpsync/engine"
	"wwcpsync/flush"
	"wwcpsync/outcome"
	"wwcpsync/queue"
	"wwcpsync/roaming"
)

const maxBodyBytes = 4 << 20

type adapterView struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Healthy     bool                    `json:"healthy"`
	Cycles      map[string]flush.Stats  `json:"cycles"`
	Queues      map[string]queue.Counts `json:"queues"`
	PendingCDRs int                     `json:"pending_cdrs"`
}

func (h *Handlers) adapterView(a *roaming.Adapter, health map[string]bool) adapterView {
	queues := make(map[string]queue.Counts)
	for kind, c := range a.Counts() {
		queues[kind.String()] = c
	}
	return adapterView{
		ID:          a.ID(),
		Name:        a.Name(),
		Healthy:     health[a.ID()],
		Cycles:      a.CycleStats(),
		Queues:      queues,
		PendingCDRs: a.PendingChargeDetailRecords(),
	}
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	pending, err := h.db.CountPendingOutbox()
	if err != nil {
		h.logger.Warn("count pending outbox", "error", err)
	}
	dbErr := h.db.Healthy(r.Context())
	status := "ok"
	if dbErr != nil {
		status = "degraded"
		h.logger.Warn("database unhealthy", "error", dbErr)
	}
	h.jsonOK(w, map[string]any{
		"status":         status,
		"database":       dbErr == nil,
		"messaging":      h.engine.MessagingConnected(),
		"adapters":       h.engine.AdapterHealth(),
		"pending_outbox": pending,
	})
}

func (h *Handlers) apiListAdapters(w http.ResponseWriter, r *http.Request) {
	health := h.engine.AdapterHealth()
	adapters := h.engine.Adapters()
	out := make([]adapterView, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, h.adapterView(a, health))
	}
	h.jsonOK(w, out)
}

func (h *Handlers) apiGetAdapter(w http.ResponseWriter, r *http.Request) {
	a, ok := h.engine.Adapter(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "adapter not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, h.adapterView(a, h.engine.AdapterHealth()))
}

func (h *Handlers) apiFlushAdapter(w http.ResponseWriter, r *http.Request) {
	a, ok := h.engine.Adapter(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "adapter not found", http.StatusNotFound)
		return
	}
	run, err := a.Flush(r.Context(), chi.URLParam(r, "cycle"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{"run": run}
	if run.Err != nil {
		resp["error"] = run.Err.Error()
	}
	h.jsonOK(w, resp)
}

func (h *Handlers) apiListFlushRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.db.ListFlushRuns(r.URL.Query().Get("adapter"), queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, runs)
}

func (h *Handlers) apiListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if typ, id := q.Get("entity_type"), q.Get("entity_id"); typ != "" && id != "" {
		entries, err := h.db.ListEntityAudit(typ, id)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, entries)
		return
	}
	entries, err := h.db.ListAuditLog(queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) apiListEntities(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.jsonOK(w, h.engine.Registry().List(kind))
}

func (h *Handlers) apiGetStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, ok := h.engine.Registry().Status(kind, chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "entity not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, v)
}

type evseRequest struct {
	ID         domain.EVSEID    `json:"id"`
	StationID  domain.StationID `json:"station_id"`
	MaxPowerKW float64          `json:"max_power_kw"`
	Connectors []string         `json:"connectors"`
	Mode       string           `json:"mode"`
}

func (h *Handlers) apiRegisterEVSE(w http.ResponseWriter, r *http.Request) {
	var req evseRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	opts, ok := h.options(w, req.Mode)
	if !ok {
		return
	}
	e, err := domain.NewEVSE(req.ID, req.StationID)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.MaxPowerKW = req.MaxPowerKW
	e.Connectors = req.Connectors

	b := h.engine.Registry().RegisterEVSE(h.actorContext(r), e, opts)
	h.jsonBatch(w, b.Kind(), b)
}

func (h *Handlers) apiRemoveEVSE(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.options(w, r.URL.Query().Get("mode"))
	if !ok {
		return
	}
	b := h.engine.Registry().RemoveEVSE(h.actorContext(r), domain.EVSEID(chi.URLParam(r, "id")), opts)
	h.jsonBatch(w, b.Kind(), b)
}

type statusRequest struct {
	Status      domain.EVSEStatus      `json:"status"`
	AdminStatus domain.AdminStatus     `json:"admin_status"`
	Timestamp   time.Time              `json:"timestamp"`
	TrackingID  domain.EventTrackingID `json:"tracking_id"`
}

func (h *Handlers) apiSetEVSEStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" && req.AdminStatus == "" {
		h.jsonError(w, "status or admin_status is required", http.StatusBadRequest)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	tid := req.TrackingID.OrNew()
	id := domain.EVSEID(chi.URLParam(r, "id"))
	reg := h.engine.Registry()

	var err error
	if req.Status != "" {
		err = reg.SetEVSEStatus(id, req.Status, req.Timestamp, tid)
	}
	if err == nil && req.AdminStatus != "" {
		err = reg.SetEVSEAdminStatus(id, req.AdminStatus, req.Timestamp, tid)
	}
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.jsonOK(w, map[string]any{"tracking_id": tid})
}

func (h *Handlers) apiSendCDRs(w http.ResponseWriter, r *http.Request) {
	var cdrs []*domain.ChargeDetailRecord
	if !h.decodeJSON(w, r, &cdrs) {
		return
	}
	if len(cdrs) == 0 {
		h.jsonError(w, "no charge detail records", http.StatusBadRequest)
		return
	}
	opts, ok := h.options(w, r.URL.Query().Get("mode"))
	if !ok {
		return
	}
	b := h.engine.Registry().SendChargeDetailRecords(r.Context(), cdrs, opts)
	h.jsonBatch(w, b.Kind(), b)
}

func (h *Handlers) options(w http.ResponseWriter, mode string) (roaming.Options, bool) {
	m, err := roaming.ParseTransmissionMode(mode)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return roaming.Options{}, false
	}
	return roaming.Options{Mode: m}, true
}

func (h *Handlers) actorContext(r *http.Request) context.Context {
	return engine.WithActor(r.Context(), h.getUsername(r))
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// jsonBatch writes an operation outcome; argument errors are the caller's
// fault, everything else is reported in the body.
func (h *Handlers) jsonBatch(w http.ResponseWriter, kind outcome.Kind, v any) {
	if kind == outcome.KindArgumentError {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(v)
		return
	}
	h.jsonOK(w, v)
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
