package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/observer"
	"audio-only-proxy/work/types"
	"audio-only-proxy/work/urls"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds request bodies on the extension endpoints.
const maxBodyBytes = 64 << 10

// AudioResolver is what the handlers need from the resolver.
type AudioResolver interface {
	ResolveAudioOnlyURL(ctx context.Context, channel string) (string, error)
	Variants(ctx context.Context, channel string) ([]types.Variant, error)
}

// HandleObserve accepts a request URL seen by the page and hands it to obs.
// It answers 202 before the observation is processed.
func HandleObserve(obs observer.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ObserveRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "Invalid observe request", http.StatusBadRequest)
			return
		}

		obs.ObserveRequest(req.URL)
		w.WriteHeader(http.StatusAccepted)
	}
}

// HandleMessage answers the extension's resolveAudioUrl message with the
// audio-only stream URL, or a null streamUrl on any failure. Failure reasons
// are only logged.
func HandleMessage(res AudioResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg types.Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
			logger.Debug("{handlers - HandleMessage} malformed message: %v", err)
			writeJSON(w, http.StatusBadRequest, types.MessageResponse{})
			return
		}

		if msg.Command != types.ResolveAudioCommand {
			logger.Debug("{handlers - HandleMessage} unknown command %q", msg.Command)
			writeJSON(w, http.StatusOK, types.MessageResponse{})
			return
		}

		channel := msg.Channel
		if channel == "" && msg.PageURL != "" {
			channel, _ = urls.ChannelFromPageURL(msg.PageURL)
		}
		if channel == "" {
			logger.Debug("{handlers - HandleMessage} message names no channel")
			writeJSON(w, http.StatusOK, types.MessageResponse{})
			return
		}

		streamURL, err := res.ResolveAudioOnlyURL(r.Context(), channel)
		if err != nil {
			writeJSON(w, http.StatusOK, types.MessageResponse{})
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{StreamURL: &streamURL})
	}
}

// HandleAudio redirects a player to the channel's audio-only stream.
func HandleAudio(res AudioResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := mux.Vars(r)["channel"]

		streamURL, err := res.ResolveAudioOnlyURL(r.Context(), channel)
		if err != nil {
			http.Error(w, "No audio-only stream available", statusFor(err))
			return
		}

		http.Redirect(w, r, streamURL, http.StatusFound)
	}
}

// HandleVariants lists the variants of the channel's master playlist.
func HandleVariants(res AudioResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := mux.Vars(r)["channel"]

		variants, err := res.Variants(r.Context(), channel)
		if err != nil {
			logger.Debug("{handlers - HandleVariants} %s: %v", channel, err)
			http.Error(w, "Variants unavailable", statusFor(err))
			return
		}

		writeJSON(w, http.StatusOK, variants)
	}
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, types.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}
