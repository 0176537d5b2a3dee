package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"notes-pricing/internal/model"
	"notes-pricing/internal/pricing"

	"github.com/gorilla/websocket"
)

// DefaultAllowedOrigin is the dashboard origin accepted when none is configured.
const DefaultAllowedOrigin = "http://localhost:4200"

// RouteConfig carries what the HTTP routes need besides the hub.
type RouteConfig struct {
	Generator     *pricing.Generator
	Universe      []model.InstrumentID
	AllowedOrigin string // "*" allows any origin
}

func newUpgrader(origin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return o == "" || origin == "*" || o == origin
		},
	}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// RegisterRoutes registers /ws, /health and /api/prices on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, cfg RouteConfig) {
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = DefaultAllowedOrigin
	}
	upgrader := newUpgrader(cfg.AllowedOrigin)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		newClient(hub, conn).serve()
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w, cfg.AllowedOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "healthy",
			"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
			"connectedClients": hub.ClientCount(),
		})
	})

	mux.HandleFunc("/api/prices", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w, cfg.AllowedOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		ticks, err := cfg.Generator.GenerateAll(cfg.Universe)
		if err != nil {
			log.Printf("[gateway] price query failed: %v", err)
			http.Error(w, `{"error":"price generation failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ticks)
	})
}
