package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/herald/pkg/httputil"
)

// Handlers exposes the management and notification surfaces over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates HTTP handlers backed by service
func NewHandlers(service *Service) *Handlers {
	return &Handlers{
		service: service,
	}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createWebhook).Methods("POST")
	router.HandleFunc("/webhooks", h.listWebhooks).Methods("GET")
	router.HandleFunc("/webhooks/stats", h.getStats).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.getWebhook).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods("PUT")
	router.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/activate", h.activateWebhook).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deactivate", h.deactivateWebhook).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods("GET")

	router.HandleFunc("/events/data-registered", h.notifyDataRegistered).Methods("POST")
	router.HandleFunc("/events/data-deleted", h.notifyDataDeleted).Methods("POST")
	router.HandleFunc("/events/deletion-completed", h.notifyDeletionCompleted).Methods("POST")
}

// endpointView is the API representation of an endpoint; the secret is never echoed
type endpointView struct {
	ID             string      `json:"id"`
	CompanyID      string      `json:"companyId"`
	URL            string      `json:"url"`
	Events         []EventType `json:"events"`
	HasSecret      bool        `json:"hasSecret"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastDeliveryAt *time.Time  `json:"lastDeliveryAt,omitempty"`
	FailureCount   int         `json:"failureCount"`
}

func newEndpointView(e *Endpoint) endpointView {
	return endpointView{
		ID:             e.ID,
		CompanyID:      e.CompanyID,
		URL:            e.URL,
		Events:         e.Events,
		HasSecret:      e.Secret != "",
		Active:         e.Active,
		CreatedAt:      e.CreatedAt,
		LastDeliveryAt: e.LastDeliveryAt,
		FailureCount:   e.FailureCount,
	}
}

func newEndpointViews(endpoints []*Endpoint) []endpointView {
	views := make([]endpointView, 0, len(endpoints))
	for _, e := range endpoints {
		views = append(views, newEndpointView(e))
	}
	return views
}

type createWebhookRequest struct {
	CompanyID string      `json:"companyId"`
	URL       string      `json:"url"`
	Events    []EventType `json:"events"`
	Secret    string      `json:"secret,omitempty"`
}

// createWebhook handles POST /webhooks
func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CompanyID, "companyId") || !httputil.RequireNonEmpty(w, req.URL, "url") {
		return
	}

	id, err := h.service.Register(r.Context(), req.CompanyID, req.URL, req.Events, req.Secret)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	endpoint, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, newEndpointView(endpoint))
}

// listWebhooks handles GET /webhooks?companyId=
func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	companyID := httputil.ParseQueryString(r, "companyId", "")

	var (
		endpoints []*Endpoint
		err       error
	)
	if companyID != "" {
		endpoints, err = h.service.List(r.Context(), companyID)
	} else {
		endpoints, err = h.service.ListAll(r.Context())
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, newEndpointViews(endpoints))
}

// getStats handles GET /webhooks/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// getWebhook handles GET /webhooks/{id}
func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	h.writeEndpoint(w, r, id)
}

// updateWebhook handles PUT /webhooks/{id}
func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var update EndpointUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	ok, err := h.service.Update(r.Context(), id, update)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !ok {
		httputil.WriteNotFoundError(w, ErrEndpointNotFound.Error())
		return
	}
	h.writeEndpoint(w, r, id)
}

// deleteWebhook handles DELETE /webhooks/{id}
func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	ok, err := h.service.Remove(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !ok {
		httputil.WriteNotFoundError(w, ErrEndpointNotFound.Error())
		return
	}
	httputil.WriteNoContent(w)
}

// activateWebhook handles POST /webhooks/{id}/activate
func (h *Handlers) activateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// deactivateWebhook handles POST /webhooks/{id}/deactivate
func (h *Handlers) deactivateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var (
		found bool
		err   error
	)
	if active {
		found, err = h.service.Activate(r.Context(), id)
	} else {
		found, err = h.service.Deactivate(r.Context(), id)
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !found {
		httputil.WriteNotFoundError(w, ErrEndpointNotFound.Error())
		return
	}
	h.writeEndpoint(w, r, id)
}

// listDeliveries handles GET /webhooks/{id}/deliveries?limit=
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"deliveries": h.service.Deliveries(id, limit),
		"stats":      h.service.DeliveryStats(id),
	})
}

type recordEventRequest struct {
	UserDID        string `json:"userDID"`
	CommitmentHash string `json:"commitmentHash"`
	DataType       string `json:"dataType"`
	CompanyID      string `json:"companyId"`
	TxHash         string `json:"txHash"`
}

type deletionCompletedRequest struct {
	UserDID        string          `json:"userDID"`
	CompanyID      string          `json:"companyId"`
	TotalRecords   int             `json:"totalRecords"`
	DeletedRecords int             `json:"deletedRecords"`
	DeletionProofs []DeletionProof `json:"deletionProofs"`
}

// notifyDataRegistered handles POST /events/data-registered
func (h *Handlers) notifyDataRegistered(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CompanyID, "companyId") {
		return
	}

	n, err := h.service.NotifyDataRegistered(r.Context(), req.UserDID, req.CommitmentHash, req.DataType, req.CompanyID, req.TxHash)
	h.writeNotifyResult(w, n, err)
}

// notifyDataDeleted handles POST /events/data-deleted
func (h *Handlers) notifyDataDeleted(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CompanyID, "companyId") {
		return
	}

	n, err := h.service.NotifyDataDeleted(r.Context(), req.UserDID, req.CommitmentHash, req.DataType, req.CompanyID, req.TxHash)
	h.writeNotifyResult(w, n, err)
}

// notifyDeletionCompleted handles POST /events/deletion-completed
func (h *Handlers) notifyDeletionCompleted(w http.ResponseWriter, r *http.Request) {
	var req deletionCompletedRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CompanyID, "companyId") {
		return
	}

	summary := DeletionSummary{
		TotalRecords:   req.TotalRecords,
		DeletedRecords: req.DeletedRecords,
		DeletionProofs: req.DeletionProofs,
	}
	n, err := h.service.NotifyDeletionCompleted(r.Context(), req.UserDID, req.CompanyID, summary)
	h.writeNotifyResult(w, n, err)
}

func (h *Handlers) writeNotifyResult(w http.ResponseWriter, enqueued int, err error) {
	if errors.Is(err, ErrServiceClosed) {
		httputil.WriteServiceUnavailable(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"enqueued": enqueued})
}

func (h *Handlers) writeEndpoint(w http.ResponseWriter, r *http.Request, id string) {
	endpoint, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	httputil.WriteSuccess(w, newEndpointView(endpoint))
}

func (h *Handlers) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrEndpointNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}
