package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/jmtorralvo/iot-hub-core/internal/directory"
	"github.com/jmtorralvo/iot-hub-core/internal/telemetry"
)

// defaultLatestLimit caps /api/sensor/latest when no limit is given.
const defaultLatestLimit = 20

// handleSensor accepts a sensor batch from a device.
//
// Request:  {"device": "esp32", "sensors": [{"type": "light", "value": 23.7}]}
// Response: 200 {"status":"success","message":"Sensor data received and processed."}
//
//	400 {"status":"error","message":...} on validation failure
//	500 {"status":"error","message":...} on storage failure
func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeLegacyError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	if _, err := s.core.Ingest(r.Context(), payload); err != nil {
		var verr *telemetry.ValidationError
		if errors.As(err, &verr) {
			writeLegacyError(w, http.StatusBadRequest, verr.Message)
			return
		}
		s.logger.Error("Sensor ingest failed", "error", err)
		writeLegacyError(w, http.StatusInternalServerError, "Error processing sensor data")
		return
	}

	writeLegacy(w, http.StatusOK, statusSuccess, "Sensor data received and processed.")
}

// registerDeviceRequest is the registration payload devices send on boot.
type registerDeviceRequest struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Type string `json:"type"`
}

// handleRegisterDevice registers or refreshes a device.
//
// Request:  {"name": "esp32-01", "ip": "http://192.168.1.50", "type": "controller"}
// Response: 200 {"status":"registered","message":...} / 400 / 500
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLegacyError(w, http.StatusBadRequest, "Missing required device fields (name, ip, type)")
		return
	}

	device, err := s.directory.Register(r.Context(), req.Name, req.IP, req.Type)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidDevice) {
			writeLegacyError(w, http.StatusBadRequest, "Missing required device fields (name, ip, type)")
			return
		}
		s.logger.Error("Device registration failed", "name", req.Name, "error", err)
		writeLegacyError(w, http.StatusInternalServerError, "Could not register device: "+err.Error())
		return
	}

	writeLegacy(w, http.StatusOK, statusRegistered,
		"Device '"+device.Name+"' registered successfully.")
}

// handleListDevices returns all registered devices, most recently seen first.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.directory.List(r.Context())
	if err != nil {
		s.logger.Error("Device list failed", "error", err)
		writeLegacyError(w, http.StatusInternalServerError, "Could not list devices")
		return
	}
	if devices == nil {
		devices = []directory.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetLED returns the current LED state.
func (s *Server) handleGetLED(w http.ResponseWriter, r *http.Request) {
	state, err := s.core.GetActuatorState(r.Context())
	if err != nil {
		// Dashboards prefer a usable default over an error page.
		s.logger.Warn("LED state read failed, returning defaults", "error", err)
		writeJSON(w, http.StatusOK, telemetry.State{})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleLatestReadings returns the most recent readings for a sensor type.
//
// Query parameters: type (required), limit (optional, default 20).
func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	sensorType := r.URL.Query().Get("type")
	if sensorType == "" {
		writeLegacyError(w, http.StatusBadRequest, "Query parameter 'type' is required")
		return
	}

	limit := defaultLatestLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeLegacyError(w, http.StatusBadRequest, "Query parameter 'limit' must be a positive integer")
			return
		}
		limit = n
	}

	readings, err := s.core.GetLatest(r.Context(), sensorType, limit)
	if err != nil {
		s.logger.Error("Latest readings query failed", "type", sensorType, "error", err)
		writeLegacyError(w, http.StatusInternalServerError, "Could not query sensor data")
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// handleHealth reports component health for monitoring.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
		} else {
			health["database"] = "ok"
		}
	}

	health["websocket_clients"] = s.hub.ClientCount()

	writeJSON(w, http.StatusOK, health)
}
