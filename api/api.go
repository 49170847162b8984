// Package api exposes the fill controller's command/status surface
// over HTTP: GET /status plus POST /start, /stop, /set_target, and
// /tare, each a thin handler over fill.Controller.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"

	"go.pumpworks.dev/fillcore/fill"
	"go.pumpworks.dev/fillcore/logging"
	"go.pumpworks.dev/fillcore/zone"
)

// Server wraps a goji.Mux behind permissive CORS so the browser-facing
// panel can be served from anywhere on the shop network.
type Server struct {
	ctrl    *fill.Controller
	logger  *logging.Logger
	handler http.Handler
}

// New builds a Server for ctrl. Call Server.ServeHTTP directly, or
// ListenAndServe for a standalone listener.
func New(ctrl *fill.Controller, logger *logging.Logger) *Server {
	mux := goji.NewMux()
	s := &Server{ctrl: ctrl, logger: logger}

	mux.HandleFunc(pat.Get("/status"), s.handleStatus)
	mux.HandleFunc(pat.Post("/start"), s.handleStart)
	mux.HandleFunc(pat.Post("/stop"), s.handleStop)
	mux.HandleFunc(pat.Post("/set_target"), s.handleSetTarget)
	mux.HandleFunc(pat.Post("/tare"), s.handleTare)
	mux.HandleFunc(pat.Post("/autotune/start"), s.handleAutotuneStart)
	mux.HandleFunc(pat.Post("/autotune/cancel"), s.handleAutotuneCancel)
	mux.HandleFunc(pat.Get("/autotune/result"), s.handleAutotuneResult)
	mux.HandleFunc(pat.Post("/autotune/accept"), s.handleAutotuneAccept)
	mux.HandleFunc(pat.Post("/autotune/reject"), s.handleAutotuneReject)

	s.handler = cors.Default().Handler(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts a blocking HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	Mode            string  `json:"state"`
	TargetLbs       float32 `json:"target_weight"`
	CurrentLbs      float32 `json:"current_weight"`
	Zone            string  `json:"zone"`
	PressurePct     float32 `json:"pressure_pct"`
	ProgressPct     float32 `json:"progress_pct"`
	ZoneTransitions int     `json:"zone_transitions"`
	FillNumber      int     `json:"fill_number"`
	FillsToday      int     `json:"fills_today"`
	TotalLbsToday   float32 `json:"total_lbs_today"`
	FillElapsedMs   int64   `json:"fill_elapsed_ms"`
	ScaleOnline     bool    `json:"scale_online"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	Error           string  `json:"error"`
	PIDEnabled      bool    `json:"pid_enabled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:            snap.Mode.String(),
		TargetLbs:       snap.TargetLbs,
		CurrentLbs:      snap.CurrentLbs,
		Zone:            snap.ActiveZone.String(),
		PressurePct:     snap.PressureCmdPct,
		ProgressPct:     zone.ProgressPct(snap.CurrentLbs, snap.TargetLbs),
		ZoneTransitions: snap.ZoneTransitions,
		FillNumber:      snap.FillNumber,
		FillsToday:      snap.FillsToday,
		TotalLbsToday:   snap.TotalLbsToday,
		FillElapsedMs:   snap.FillElapsedMs,
		ScaleOnline:     snap.ScaleOnline,
		MQTTConnected:   snap.MQTTConnected,
		Error:           snap.Error.String(),
		PIDEnabled:      snap.PIDEnabled,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(time.Now()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context(), time.Now()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setTargetRequest struct {
	Target float32 `json:"target"`
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req setTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.SetTarget(req.Target); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTare(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Tare(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutotuneStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartAutotune(time.Now()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutotuneCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CancelAutotune(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type autotuneResultResponse struct {
	Ready          bool    `json:"ready"`
	Kp             float32 `json:"kp,omitempty"`
	Ki             float32 `json:"ki,omitempty"`
	Kd             float32 `json:"kd,omitempty"`
	UltimateGain   float32 `json:"ultimate_gain,omitempty"`
	UltimatePeriod float32 `json:"ultimate_period,omitempty"`
}

func (s *Server) handleAutotuneResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.ctrl.AutotuneResult()
	if !ok {
		writeJSON(w, http.StatusOK, autotuneResultResponse{Ready: false})
		return
	}
	writeJSON(w, http.StatusOK, autotuneResultResponse{
		Ready:          true,
		Kp:             res.Gains.Kp,
		Ki:             res.Gains.Ki,
		Kd:             res.Gains.Kd,
		UltimateGain:   res.UltimateGain,
		UltimatePeriod: res.UltimatePeriod,
	})
}

func (s *Server) handleAutotuneAccept(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.AcceptAutotune(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutotuneReject(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.RejectAutotune(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
