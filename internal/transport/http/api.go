package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gameroom-service/internal/app"
	"gameroom-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnalyticsReader looks up the analytics of a finished game.
type AnalyticsReader interface {
	GetAnalytics(ctx context.Context, roomID string) (domain.GameAnalytics, error)
}

// RoomAPI is the REST surface for creating and inspecting rooms.
type RoomAPI struct {
	rooms     *app.RoomManager
	analytics AnalyticsReader
	log       *zap.Logger
}

func NewRoomAPI(rooms *app.RoomManager, analytics AnalyticsReader, log *zap.Logger) *RoomAPI {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomAPI{rooms: rooms, analytics: analytics, log: log}
}

// Routes mounts the room endpoints on r.
func (a *RoomAPI) Routes(r chi.Router) {
	r.Get("/", a.listRooms)
	r.Post("/", a.createRoom)
	r.Get("/{id}", a.getRoom)
	r.Delete("/{id}", a.cancelRoom)
	r.Get("/{id}/analytics", a.getAnalytics)
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *RoomAPI) createRoom(w http.ResponseWriter, r *http.Request) {
	var cfg domain.GameRoomConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg = cfg.WithDefaults()
	if err := domain.ValidateRoomConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	room, err := a.rooms.Create(cfg)
	switch {
	case errors.Is(err, domain.ErrRoomExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case err != nil:
		a.log.Error("create room", zap.String("room_id", cfg.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not create room"})
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *RoomAPI) listRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.rooms.ListRooms())
}

func (a *RoomAPI) getRoom(w http.ResponseWriter, r *http.Request) {
	room := a.rooms.GetRoom(chi.URLParam(r, "id"))
	if room == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: domain.ErrRoomNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *RoomAPI) cancelRoom(w http.ResponseWriter, r *http.Request) {
	if !a.rooms.CancelRoom(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: domain.ErrRoomNotFound.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *RoomAPI) getAnalytics(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "analytics not available"})
		return
	}
	roomID := chi.URLParam(r, "id")
	analytics, err := a.analytics.GetAnalytics(r.Context(), roomID)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case err != nil:
		a.log.Error("load analytics", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not load analytics"})
	default:
		writeJSON(w, http.StatusOK, analytics)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
