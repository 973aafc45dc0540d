package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"netchat/chaterr"
	"netchat/models"
)

const maxMessageLimit = 500

type Handler struct {
	ledger Ledger
	rooms  Rooms
}

func NewHandler(ledger Ledger, rooms Rooms) *Handler {
	return &Handler{ledger: ledger, rooms: rooms}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps err to a status code by kind.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.Error(w, status, message)
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch chaterr.KindOf(err) {
	case chaterr.KindNotFound:
		return http.StatusNotFound
	case chaterr.KindConflict:
		return http.StatusConflict
	case chaterr.KindPermissionDenied:
		return http.StatusForbidden
	case chaterr.KindDecode, chaterr.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"nodes":     len(h.ledger.Addresses()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type nodeResponse struct {
	Address string `json:"address"`
	Entries int    `json:"entries"`
}

// ListNodes returns every address with a non-empty ledger.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []nodeResponse{}
	for _, addr := range h.ledger.Addresses() {
		nodes = append(nodes, nodeResponse{Address: addr, Entries: h.ledger.Len(addr)})
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (h *Handler) NodeHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	entries := h.ledger.History(address)
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"entries": entries,
	})
}

func (h *Handler) UserRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.RoomsForUser(chi.URLParam(r, "user"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// GetRoom returns the room summary without message bodies.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room.Summary())
}

// RoomMessages pages through a room newest first. before is an RFC3339Nano
// cursor taken from the last message of the previous page.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := -1
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var before time.Time
	if b := r.URL.Query().Get("before"); b != "" {
		t, err := time.Parse(time.RFC3339Nano, b)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		before = t
	}

	// unknown rooms page as empty at the store level; surface them here
	if _, err := h.rooms.Get(id); err != nil {
		h.Fail(w, err)
		return
	}

	messages, err := h.rooms.ListMessages(id, limit, before)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"room":     id,
		"messages": messages,
	})
}
