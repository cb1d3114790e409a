package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gitlab.com/timkado/api/loanguard-gateway/internal/application"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// GenerationController is the part of the controller the admin endpoints drive.
type GenerationController interface {
	Generation() string
	Rollover(ctx context.Context, generation string) error
}

// GenerationsResponse lists the cache generations present in the store.
type GenerationsResponse struct {
	Current     string   `json:"current"`
	Generations []string `json:"generations"`
}

// RolloverRequest is the expected payload for POST /_gateway/cache/rollover.
type RolloverRequest struct {
	Generation string `json:"generation"`
}

// RolloverResponse reports the generation active after a rollover.
type RolloverResponse struct {
	Previous   string `json:"previous"`
	Generation string `json:"generation"`
}

// GenerationsHandler lists stored generations and the one currently serving.
func GenerationsHandler(store domain.CacheStore, controller GenerationController, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			domain.NewErrorResponse(domain.ErrMethodNotAllowed, "Method not allowed", "Only GET method is allowed.").WriteJSON(w, http.StatusMethodNotAllowed)
			return
		}

		names, err := store.Generations(r.Context())
		if err != nil {
			logger.Error(r.Context(), "Failed to list cache generations", "error", err.Error())
			domain.NewErrorResponse(domain.ErrInternal, "Failed to list cache generations", err.Error()).WriteJSON(w, http.StatusInternalServerError)
			return
		}
		if names == nil {
			names = []string{}
		}

		writeJSON(w, r, logger, http.StatusOK, GenerationsResponse{Current: controller.Generation(), Generations: names})
	}
}

// RolloverHandler installs and activates the requested generation.
func RolloverHandler(controller GenerationController, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			domain.NewErrorResponse(domain.ErrMethodNotAllowed, "Method not allowed", "Only POST method is allowed.").WriteJSON(w, http.StatusMethodNotAllowed)
			return
		}

		var payload RolloverRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Warn(r.Context(), "Failed to decode rollover payload", "error", err.Error())
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if payload.Generation == "" {
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid payload", "generation is required.").WriteJSON(w, http.StatusBadRequest)
			return
		}

		previous := controller.Generation()
		if err := controller.Rollover(r.Context(), payload.Generation); err != nil {
			logger.Error(r.Context(), "Rollover failed", "generation", payload.Generation, "error", err.Error())
			if errors.Is(err, application.ErrInstallFailed) {
				domain.NewErrorResponse(domain.ErrUpstreamUnavailable, "Shell install failed", err.Error()).WriteJSON(w, http.StatusBadGateway)
				return
			}
			domain.NewErrorResponse(domain.ErrInternal, "Rollover failed", err.Error()).WriteJSON(w, http.StatusInternalServerError)
			return
		}

		logger.Info(r.Context(), "Rollover completed via admin endpoint", "previous", previous, "generation", payload.Generation)
		writeJSON(w, r, logger, http.StatusOK, RolloverResponse{Previous: previous, Generation: payload.Generation})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, logger domain.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(r.Context(), "Failed to encode response", "error", err.Error())
	}
}
