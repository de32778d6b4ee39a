package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"scavenger-game-server/internal/app"
	"scavenger-game-server/internal/hub"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/session"
)

// Server exposes the device transport over HTTP and websocket.
type Server struct {
	app *app.App
}

// New creates a Server on top of the wired application.
func New(a *app.App) *Server {
	return &Server{app: a}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", s.handleUp)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/scan/batch", s.handleBatch)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.Handle("/ws", websocket.Handler(s.handleWS))
	return mux
}

// scanRequestData is the inbound scan shape shared by HTTP and websocket.
type scanRequestData struct {
	TokenID  string `json:"tokenId"`
	TeamID   string `json:"teamId"`
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
}

func (d scanRequestData) toRequest() scan.Request {
	return scan.Request{
		TokenID:  d.TokenID,
		TeamID:   d.TeamID,
		DeviceID: d.DeviceID,
		Mode:     model.ScanMode(d.Mode),
	}
}

// batchRequestData is the offline replay shape.
type batchRequestData struct {
	DeviceID     string                    `json:"deviceId"`
	Transactions []model.OfflineQueueEntry `json:"transactions"`
}

// sessionCommandData drives session lifecycle over HTTP.
type sessionCommandData struct {
	Action string   `json:"action"` // create | pause | resume | end | reset
	Name   string   `json:"name,omitempty"`
	Teams  []string `json:"teams,omitempty"`
}

// stateView is the read-only view served to the offline audit tooling.
// It reads the derived aggregates and the live log; it never mutates.
type stateView struct {
	Session *hub.SessionResource `json:"session"`
	Scores  []hub.ScoreSnapshot  `json:"scores"`
	Devices []model.DeviceConnection `json:"devices"`
	TransactionCount int `json:"transactionCount"`
}

func (s *Server) handleUp(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleScan accepts a single player-scanner scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "POST required")
		return
	}

	var req scanRequestData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, "Malformed scan payload")
		return
	}

	result := s.app.Processor.Submit(r.Context(), req.toRequest())
	status := http.StatusOK
	if result.Status == model.StatusRejected {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

// handleBatch accepts an offline queue replay. The single ack is
// fire-and-forget: clients clear their queue without per-item results.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "POST required")
		return
	}

	var req batchRequestData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, "Malformed batch payload")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "Batch replay requires a device id")
		return
	}

	ack := s.app.Reconciler.ReplayBatch(r.Context(), req.DeviceID, req.Transactions)
	writeJSON(w, http.StatusOK, ack)
}

// handleState serves the read-only session and score view.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET required")
		return
	}

	scores := s.app.Processor.AllScores()
	snapshots := make([]hub.ScoreSnapshot, 0, len(scores))
	for _, score := range scores {
		snapshots = append(snapshots, hub.SnapshotOf(score))
	}

	writeJSON(w, http.StatusOK, stateView{
		Session:          hub.SessionResourceOf(s.app.Sessions.Current()),
		Scores:           snapshots,
		Devices:          s.app.Registry.ConnectedDevices(),
		TransactionCount: s.app.Processor.TransactionCount(),
	})
}

// handleSession runs a session lifecycle command over HTTP.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, hub.SessionResourceOf(s.app.Sessions.Current()))
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET or POST required")
		return
	}

	var cmd sessionCommandData
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, "Malformed session command")
		return
	}

	var (
		result *model.Session
		err    error
	)
	ctx := r.Context()
	switch cmd.Action {
	case "create":
		result, err = s.app.CreateSession(ctx, cmd.Name, cmd.Teams)
	case "pause":
		result, err = s.app.Sessions.Pause(ctx)
	case "resume":
		result, err = s.app.Sessions.Resume(ctx)
	case "end":
		result, err = s.app.Sessions.End(ctx)
	case "reset":
		s.app.Reset(ctx)
		writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
		return
	default:
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, "Unknown session action "+cmd.Action)
		return
	}
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusNotFound, model.ErrCodeSessionNotFound, "There is no current session")
			return
		}
		writeError(w, http.StatusConflict, model.ErrCodeValidation, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, hub.SessionResourceOf(result))
}

// ListenAndServe starts the HTTP listener and blocks until ctx is done
// or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, hub.WireError{Code: code, Message: message})
}
