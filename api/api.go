// Package api exposes the worker's HTTP surface: health, expvar metrics, and
// the administrative boundaries for frontends such as the chat bot.
package api

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/service"
)

type Handler struct {
	logger  *zap.Logger
	service *service.Service
}

func NewRouter(logger *zap.Logger, svc *service.Service) *chi.Mux {
	handler := &Handler{
		logger:  logger,
		service: svc,
	}

	router := chi.NewRouter()
	router.Get("/health", handler.health)
	router.Method(http.MethodGet, "/debug/vars", expvar.Handler())

	router.Post("/credentials", handler.updateCredentials)
	router.Post("/credentials/{platform}/refresh", handler.refreshCredentials)
	router.Post("/subscriptions", handler.subscribe)
	router.Delete("/subscriptions", handler.unsubscribe)
	router.Get("/subscriptions", handler.listSubscriptions)

	return router
}

func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

type response struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, response{OK: true})
}

type credentialsRequest struct {
	Platform     string            `json:"platform"`
	AccountLabel string            `json:"account_label"`
	Payload      map[string]string `json:"payload"`
}

func (h *Handler) updateCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, response{Message: "invalid request body"})
		return
	}
	if req.Platform == "" || len(req.Payload) == 0 {
		h.respond(w, http.StatusBadRequest, response{Message: "platform and payload are required"})
		return
	}

	probe, err := h.service.UpdateCredentials(r.Context(), req.Platform, req.AccountLabel, req.Payload)
	if err != nil {
		h.respond(w, http.StatusUnprocessableEntity, response{Message: err.Error()})
		return
	}

	message := "credentials updated"
	if probe.Attempted && !probe.Verified {
		message = "credentials updated, verification probe failed: " + probe.Message
	}
	h.respond(w, http.StatusOK, response{OK: true, Message: message, Data: probe})
}

func (h *Handler) refreshCredentials(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	probe, err := h.service.RefreshCredentials(r.Context(), platform)
	if err != nil {
		h.respond(w, http.StatusUnprocessableEntity, response{Message: err.Error()})
		return
	}

	h.respond(w, http.StatusOK, response{OK: true, Message: "credentials refreshed", Data: probe})
}

type subscriptionRequest struct {
	RequesterID string `json:"requester_id"`
	Handle      string `json:"handle"`
	Platform    string `json:"platform"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, response{Message: "invalid request body"})
		return
	}
	if req.RequesterID == "" || req.Handle == "" || req.Platform == "" {
		h.respond(w, http.StatusBadRequest, response{Message: "requester_id, handle and platform are required"})
		return
	}

	creator, err := h.service.Subscribe(r.Context(), req.RequesterID, req.Handle, req.Platform)
	if err != nil {
		if crawlers.IsNotFound(err) {
			h.respond(w, http.StatusNotFound, response{
				Message: fmt.Sprintf("no creator %q on platform %q", req.Handle, req.Platform),
			})
			return
		}
		h.respond(w, http.StatusUnprocessableEntity, response{Message: err.Error()})
		return
	}

	h.respond(w, http.StatusOK, response{
		OK:      true,
		Message: fmt.Sprintf("subscribed to %s (%s)", creator.DisplayName, creator.Username),
		Data: map[string]interface{}{
			"creator_id":   creator.ID,
			"username":     creator.Username,
			"display_name": creator.DisplayName,
			"platform":     creator.Platform,
		},
	})
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, response{Message: "invalid request body"})
		return
	}

	err := h.service.Unsubscribe(req.RequesterID, req.Handle, req.Platform)
	if err != nil {
		if crawlers.IsNotFound(err) {
			h.respond(w, http.StatusNotFound, response{Message: "creator is not tracked"})
			return
		}
		h.respond(w, http.StatusUnprocessableEntity, response{Message: err.Error()})
		return
	}

	h.respond(w, http.StatusOK, response{OK: true, Message: "unsubscribed"})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		h.respond(w, http.StatusBadRequest, response{Message: "requester_id is required"})
		return
	}

	creators, err := h.service.Subscriptions(requesterID)
	if err != nil {
		h.respond(w, http.StatusUnprocessableEntity, response{Message: err.Error()})
		return
	}

	list := make([]map[string]interface{}, len(creators))
	for i, creator := range creators {
		list[i] = map[string]interface{}{
			"username":     creator.Username,
			"display_name": creator.DisplayName,
			"platform":     creator.Platform,
		}
	}
	h.respond(w, http.StatusOK, response{OK: true, Data: list})
}

func (h *Handler) respond(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response",
			zap.Error(err),
		)
	}
}
