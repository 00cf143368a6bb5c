// Package api implements the REST + WebSocket status/control surface
// (spec §6 "External interfaces"): a system-mode control endpoint and a
// read-only plant status snapshot, plus a live WebSocket stream of the
// same snapshot for UIs that want push updates instead of polling.
// Grounded on the teacher's internal/api/api.go (ServeMux + CORS
// middleware + writeJSON/writeError helpers), generalized from a single
// zones/system-mode model to the full plant object graph, with the
// WebSocket half grounded on jpxor-burlo.v2's gorilla/websocket usage.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/runtime"
)

// Server exposes the World's state over HTTP.
type Server struct {
	world *runtime.World
	hub   *hub
}

// NewServer builds an API server around world.
func NewServer(world *runtime.World) *Server {
	return &Server{world: world, hub: newHub()}
}

// SystemModeResponse is the current system-wide mode.
type SystemModeResponse struct {
	Mode      string `json:"mode"`
	StartTime string `json:"start_time"`
}

// SystemModeRequest sets the system-wide mode.
type SystemModeRequest struct {
	Mode string `json:"mode"`
}

// StatusResponse is a full plant status snapshot (spec §4.10 derived
// backpressure signals plus the runtime's own mode state).
type StatusResponse struct {
	Systemmode              string  `json:"systemmode"`
	ConsumerShiftPercent    float64 `json:"consumer_shift_percent"`
	ConsumerSDelaySeconds   int64   `json:"consumer_sdelay_seconds"`
	CouldSleep              bool    `json:"could_sleep"`
	DHWCAbsolute            bool    `json:"dhwc_absolute"`
	SummerMaintenanceActive bool    `json:"summer_maintenance_active"`
}

// ErrorResponse wraps an error message for JSON clients.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler builds the full mux, CORS-wrapped, ready to pass to
// http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/system/mode", s.handleSystemMode)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.hub.serveWS)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Start serves the API on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	log.Info().Str("address", addr).Msg("starting API server")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleSystemMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getSystemMode(w, r)
	case http.MethodPut:
		s.setSystemMode(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getSystemMode(w http.ResponseWriter, r *http.Request) {
	rt := s.world.Runtime
	resp := SystemModeResponse{
		Mode:      rt.Systemmode().String(),
		StartTime: rt.StartTime().Format(timeLayout),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setSystemMode(w http.ResponseWriter, r *http.Request) {
	var req SystemModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	sm, ok := parseSystemmode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown systemmode %q", req.Mode))
		return
	}

	s.world.Runtime.SetSystemmode(sm)
	log.Info().Str("systemmode", sm.String()).Msg("systemmode changed via API")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() StatusResponse {
	p := s.world.Runtime.Plant
	if p == nil {
		return StatusResponse{Systemmode: s.world.Runtime.Systemmode().String()}
	}
	return StatusResponse{
		Systemmode:              s.world.Runtime.Systemmode().String(),
		ConsumerShiftPercent:    p.ConsumerShift(),
		ConsumerSDelaySeconds:   int64(p.ConsumerSDelay().Duration().Seconds()),
		CouldSleep:              p.CouldSleep(),
		DHWCAbsolute:            p.DHWCAbsolute(),
		SummerMaintenanceActive: p.SummerMaintenanceActive(),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func parseSystemmode(s string) (mode.Systemmode, bool) {
	switch s {
	case "off":
		return mode.SysOff, true
	case "auto":
		return mode.SysAuto, true
	case "manual":
		return mode.SysManual, true
	case "comfort":
		return mode.SysComfort, true
	case "eco":
		return mode.SysEco, true
	case "frostfree":
		return mode.SysFrostfree, true
	case "dhwonly":
		return mode.SysDHWOnly, true
	case "test":
		return mode.SysTest, true
	case "none":
		return mode.SysNone, true
	default:
		return mode.SysOff, false
	}
}
