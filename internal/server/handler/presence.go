package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// ChannelPresence is the bus channel carrying presence joins and leaves.
const ChannelPresence = "ch:presence"

// PresenceHandler serves the presence endpoints.
type PresenceHandler struct {
	tracker domain.PresenceTracker
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewPresenceHandler creates a PresenceHandler. bus may be nil.
func NewPresenceHandler(tracker domain.PresenceTracker, bus domain.SignalBus, logger *slog.Logger) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, bus: bus, logger: logHandler(logger, "presence")}
}

type presenceRequest struct {
	Key string `json:"key"`
}

type presenceEvent struct {
	Room   string    `json:"room"`
	Key    string    `json:"key"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

func (h *PresenceHandler) keyFrom(w http.ResponseWriter, r *http.Request, required bool) (string, bool) {
	var req presenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	key := strings.TrimSpace(req.Key)
	if key == "" && required {
		writeError(w, http.StatusBadRequest, "key is required")
		return "", false
	}
	return key, true
}

func (h *PresenceHandler) publish(r *http.Request, room, key, action string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(presenceEvent{Room: room, Key: key, Action: action, At: time.Now().UTC()})
	if err == nil {
		err = h.bus.Publish(r.Context(), ChannelPresence, payload)
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "publish presence failed", slog.String("error", err.Error()))
	}
}

// Join adds a connection key to the room, minting one when none is given.
// POST /api/presence/{room}/join
func (h *PresenceHandler) Join(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFrom(w, r, false)
	if !ok {
		return
	}
	if key == "" {
		key = uuid.NewString()
	}
	room := pathParam(r, "room")
	if err := h.tracker.Join(r.Context(), room, key); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.publish(r, room, key, "join")
	writeJSON(w, http.StatusOK, map[string]string{"room": room, "key": key})
}

// Heartbeat keeps a key present. An expired or unknown key gets 404 and
// must join again.
// POST /api/presence/{room}/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFrom(w, r, true)
	if !ok {
		return
	}
	if err := h.tracker.Heartbeat(r.Context(), pathParam(r, "room"), key); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leave removes a key from the room.
// POST /api/presence/{room}/leave
func (h *PresenceHandler) Leave(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFrom(w, r, true)
	if !ok {
		return
	}
	room := pathParam(r, "room")
	if err := h.tracker.Leave(r.Context(), room, key); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.publish(r, room, key, "leave")
	w.WriteHeader(http.StatusNoContent)
}

// Members lists the keys present in the room.
// GET /api/presence/{room}
func (h *PresenceHandler) Members(w http.ResponseWriter, r *http.Request) {
	room := pathParam(r, "room")
	members, err := h.tracker.Members(r.Context(), room)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if members == nil {
		members = []domain.PresenceMember{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    room,
		"count":   len(members),
		"members": members,
	})
}
