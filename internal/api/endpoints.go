package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/wiotp-relay/internal/event"
	"github.com/nerrad567/wiotp-relay/internal/host"
)

// handleListConnections returns every shared connection in the registry.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

// handleListEndpoints returns every running endpoint with its last status.
func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.flow.Endpoints()
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": eps,
		"count":     len(eps),
	})
}

// handleSendEvent sends the request body through an outbound endpoint.
//
// A send that produced a warning is still accepted: the warning is part of
// the response body and the endpoint stays usable.
func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := decodeMessage(r)
	if err != nil {
		failFor(w, r, err)
		return
	}

	res, err := s.flow.Send(r.Context(), id, msg)
	if err != nil {
		if !errors.Is(err, host.ErrUnknownEndpoint) {
			s.logger.Error("send failed", "endpoint", id, "error", err, "request_id", requestID(r.Context()))
		}
		failFor(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// decodeMessage reads an event.Message, keeping JSON numbers exact.
func decodeMessage(r *http.Request) (event.Message, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var msg event.Message
	if err := dec.Decode(&msg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return msg, err
		}
		return msg, fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	return msg, nil
}
