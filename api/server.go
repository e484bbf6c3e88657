// Package api exposes a read-mostly HTTP presenter surface over the control
// core: system status, the violation log, a raw link command endpoint, and a
// Server-Sent Events tail of the core's event stream.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/intersection/internal/traffic"
	"github.com/banshee-data/intersection/internal/violations"
)

type Server struct {
	sys   *traffic.System
	store *violations.Store
}

// NewServer creates an API server over the control core. store may be nil
// when violation persistence is disabled.
func NewServer(sys *traffic.System, store *violations.Store) *Server {
	return &Server{sys: sys, store: store}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/violations", s.violationsHandler)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	return mux
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sys.Snapshot())
}

func (s *Server) violationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Violation storage disabled", http.StatusNotFound)
		return
	}
	records, err := s.store.List(100)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list violations: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}

	if err := s.sys.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// eventsHandler streams the core event stream as Server-Sent Events. Frame
// payloads are omitted; subscribers needing pixels take them in-process.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, events := s.sys.Events().Subscribe()
	defer s.sys.Events().Unsubscribe(id)

	// initial ping to establish the stream
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			name, payload, renderable := encodeEvent(e)
			if !renderable {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// encodeEvent flattens one core event into an SSE name and JSON payload.
// Frame-bearing events are marked non-renderable rather than serializing
// pixels into the stream.
func encodeEvent(e traffic.Event) (name string, payload []byte, renderable bool) {
	marshal := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil {
			return []byte("{}")
		}
		return b
	}

	switch ev := e.(type) {
	case traffic.VehicleCountChanged:
		return "vehicle_count_changed", marshal(map[string]any{"approach": ev.Approach, "count": ev.Count}), true
	case traffic.DensityChanged:
		return "density_changed", marshal(map[string]any{"approach": ev.Approach, "density": ev.Density.String()}), true
	case traffic.TrafficLightChanged:
		return "traffic_light_changed", marshal(map[string]any{"approach": ev.Approach, "light": ev.Light.String()}), true
	case traffic.ViolationDetected:
		return "violation_detected", marshal(map[string]any{"approach": ev.Approach, "timestamp": ev.Timestamp, "reason": ev.Reason}), true
	case traffic.CameraStatusChanged:
		return "camera_status_changed", marshal(map[string]any{"approach": ev.Approach, "connected": ev.Connected}), true
	case traffic.ArduinoStatusChanged:
		return "arduino_status_changed", marshal(map[string]any{"connected": ev.Connected, "port": ev.Port}), true
	case traffic.EnergySavingStatusChanged:
		return "energy_saving_status_changed", marshal(map[string]any{"active": ev.Active}), true
	case traffic.LogMessage:
		return "log_message", marshal(map[string]any{"message": ev.Message, "level": ev.Level}), true
	default:
		return "", nil, false
	}
}
