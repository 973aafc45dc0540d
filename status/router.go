// Package status serves a read-only HTTP view of the client state: node
// ledgers, chatrooms and Prometheus metrics.
package status

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"netchat/models"
)

// Ledger is the read side of the response ledger.
type Ledger interface {
	Addresses() []string
	History(address string) []models.LedgerEntry
	Len(address string) int
}

// Rooms is the read side of the chatroom store.
type Rooms interface {
	Get(id string) (*models.Chatroom, error)
	ListMessages(id string, limit int, before time.Time) ([]models.Message, error)
	RoomsForUser(user string) ([]models.RoomSummary, error)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, ledger Ledger, rooms Rooms) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(Logger(logger.With().Str("component", "status").Logger()))
	r.Use(chimw.Recoverer)

	h := NewHandler(ledger, rooms)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)

	r.Get("/nodes", h.ListNodes)
	r.Get("/nodes/{address}/history", h.NodeHistory)
	r.Get("/users/{user}/rooms", h.UserRooms)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Get("/rooms/{id}/messages", h.RoomMessages)

	return r
}

// NewServer wraps the router in an http.Server with the usual timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
