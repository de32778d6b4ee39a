// Package server provides the device-facing transport: a websocket
// endpoint for stations and an HTTP API for player scanners and the
// offline audit tooling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"scavenger-game-server/internal/hub"
	"scavenger-game-server/internal/model"
)

// inboundFrame is the device-to-server message shape.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// identifyData is the one-time identify handshake payload.
type identifyData struct {
	DeviceID        string           `json:"deviceId"`
	Type            model.DeviceType `json:"type"`
	ProtocolVersion string           `json:"version"`
}

// gmCommandData is a station's session lifecycle command.
type gmCommandData struct {
	Action string   `json:"action"` // create | pause | resume | end | reset
	Name   string   `json:"name,omitempty"`
	Teams  []string `json:"teams,omitempty"`
}

// wsPeer adapts one websocket connection to hub.Conn. Writes are
// serialized through a mutex; the websocket codec is not.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn}
}

// Send implements hub.Conn.
func (p *wsPeer) Send(env hub.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, env)
}

// Close implements hub.Conn.
func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// handleWS runs one websocket connection until it drops. A connection
// receives no broadcasts until its identify handshake completes.
func (s *Server) handleWS(conn *websocket.Conn) {
	peer := newWSPeer(conn)
	var deviceID string

	defer func() {
		s.app.Registry.DropConn(peer)
	}()

	for {
		var frame inboundFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("device_id", deviceID).Msg("Websocket read failed")
			}
			return
		}

		switch frame.Event {
		case "device:identify":
			deviceID = s.handleIdentify(peer, deviceID, frame.Data)

		case "transaction:submit":
			s.handleSubmit(peer, deviceID, frame.Data)

		case "sync:request":
			if deviceID == "" {
				s.sendError(peer, model.ErrCodeAuthRequired, "Identify before requesting a sync")
				continue
			}
			if err := s.app.Registry.Resync(deviceID); err != nil {
				s.sendError(peer, model.ErrCodeInternal, "Unable to rebuild the sync payload")
			}

		case "gm:command":
			s.handleGMCommand(peer, deviceID, frame.Data)

		default:
			s.sendError(peer, model.ErrCodeInvalidRequest, "Unknown event "+frame.Event)
		}
	}
}

// handleIdentify registers the device and returns the id bound to this
// connection. A connection keeps exactly one identity for its lifetime:
// re-identifying under a different id is rejected so teardown always
// drops the id the registry actually holds for this socket.
func (s *Server) handleIdentify(peer *wsPeer, current string, raw json.RawMessage) string {
	var data identifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.sendError(peer, model.ErrCodeInvalidRequest, "Malformed identify payload")
		return current
	}
	if current != "" && data.DeviceID != current {
		s.sendError(peer, model.ErrCodeValidation, "Connection is already identified as "+current)
		return current
	}

	info, err := s.app.Registry.Identify(peer, data.DeviceID, data.Type, data.ProtocolVersion)
	if err != nil {
		s.sendError(peer, model.ErrCodeValidation, "Identify requires a device id and a valid type")
		return current
	}
	return info.DeviceID
}

// handleSubmit processes one live scan from an identified station.
func (s *Server) handleSubmit(peer *wsPeer, deviceID string, raw json.RawMessage) {
	if deviceID == "" {
		s.sendError(peer, model.ErrCodeAuthRequired, "Identify before submitting scans")
		return
	}

	var req scanRequestData
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(peer, model.ErrCodeInvalidRequest, "Malformed scan payload")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = deviceID
	}

	result := s.app.Processor.Submit(context.Background(), req.toRequest())
	if err := s.app.Registry.SendTo(deviceID, model.EventTransactionResult, result); err != nil {
		log.Debug().Err(err).Str("device_id", deviceID).Msg("Result delivery failed")
	}
}

// handleGMCommand runs a session lifecycle command. Stations only.
func (s *Server) handleGMCommand(peer *wsPeer, deviceID string, raw json.RawMessage) {
	if deviceID == "" {
		s.sendError(peer, model.ErrCodeAuthRequired, "Identify before issuing commands")
		return
	}
	device, ok := s.app.Registry.Device(deviceID)
	if !ok || device.Type != model.DeviceGM {
		s.sendError(peer, model.ErrCodePermissionDenied, "Session commands require a GM station")
		return
	}

	var cmd gmCommandData
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.sendError(peer, model.ErrCodeInvalidRequest, "Malformed command payload")
		return
	}

	ctx := context.Background()
	var err error
	switch cmd.Action {
	case "create":
		_, err = s.app.CreateSession(ctx, cmd.Name, cmd.Teams)
	case "pause":
		_, err = s.app.Sessions.Pause(ctx)
	case "resume":
		_, err = s.app.Sessions.Resume(ctx)
	case "end":
		_, err = s.app.Sessions.End(ctx)
	case "reset":
		s.app.Reset(ctx)
	default:
		s.sendError(peer, model.ErrCodeInvalidRequest, "Unknown session action "+cmd.Action)
		return
	}
	if err != nil {
		s.sendError(peer, model.ErrCodeValidation, err.Error())
	}
}

func (s *Server) sendError(peer *wsPeer, code, message string) {
	err := peer.Send(hub.NewEnvelope(model.EventError, hub.WireError{Code: code, Message: message}))
	if err != nil {
		log.Debug().Err(err).Str("code", code).Msg("Error frame delivery failed")
	}
}
