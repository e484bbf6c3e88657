package traffic

import (
	"fmt"
	"image"

	"github.com/banshee-data/intersection/internal/serialmux"
)

// The configuration surface. Every method that touches control state executes
// on the control goroutine, so callers may invoke them from any goroutine once
// Run is active; SetYoloThresholds, ListSerialPorts and PublishLog run on the
// caller's goroutine. Applying the same configuration twice is idempotent.

// Start enters the signal cycle at approach 0.
func (s *System) Start() { s.do(s.start) }

// Stop halts the cycle. Lights go OFF when energy saving is enabled,
// otherwise all RED as the fail-safe.
func (s *System) Stop() { s.do(s.stop) }

// SetLightTiming sets the green duration for one density bucket.
func (s *System) SetLightTiming(d Density, seconds int) {
	s.do(func() { s.machine.SetDuration(d, seconds) })
}

// SetYellowDuration sets the fixed yellow sub-phase duration.
func (s *System) SetYellowDuration(seconds int) {
	s.do(func() { s.machine.SetYellowSeconds(seconds) })
}

// SetEnergySavingEnabled toggles energy-saving mode eligibility. The mode
// itself is entered and left on the next processing result.
func (s *System) SetEnergySavingEnabled(enabled bool) {
	s.do(func() { s.energySavingEnabled = enabled })
}

// SetViolationDetectionEnabled toggles violation recording, both
// tracker-attributed and IR-triggered.
func (s *System) SetViolationDetectionEnabled(enabled bool) {
	s.do(func() { s.violationDetectionEnabled = enabled })
}

// SetRoadROI restricts detection on an approach to roi. The zero rectangle
// means the whole frame.
func (s *System) SetRoadROI(approach int, roi image.Rectangle) {
	s.do(func() {
		if approach >= 0 && approach < NumApproaches {
			s.approaches[approach].roi = roi
		}
	})
}

// SetYoloThresholds updates the detector's confidence and NMS thresholds.
// The update is atomic with respect to any in-flight detection.
func (s *System) SetYoloThresholds(confidence, nms float32) {
	s.worker.SetThresholds(confidence, nms)
}

// ConnectCamera opens uri for an approach, replacing any existing source.
func (s *System) ConnectCamera(approach int, uri string) error {
	var err error
	s.do(func() { err = s.connectCamera(approach, uri) })
	return err
}

// DisconnectCamera releases an approach's camera and resets its state.
func (s *System) DisconnectCamera(approach int) {
	s.do(func() { s.disconnectCamera(approach) })
}

// InitializeArduino opens the microcontroller link. An empty port name picks
// the first enumerated port; with none available the system stays in
// simulation and an error is returned.
func (s *System) InitializeArduino(portName string) error {
	var err error
	s.do(func() { err = s.initializeArduino(portName) })
	return err
}

// SetSimulationMode detaches or re-attaches the microcontroller link. While
// simulation is active a no-op mux stands in for the port, so the phase
// controller keeps running unchanged.
func (s *System) SetSimulationMode(active bool) {
	s.do(func() {
		s.simulation = active
		if active && s.linkConnected {
			s.teardownLink()
			s.bus.Publish(ArduinoStatusChanged{Connected: false, Port: "Simulation"})
			s.logf(LevelInfo, "Simulation mode active; serial link closed.")
		} else if !active && !s.linkConnected {
			s.initializeArduino("")
		}
	})
}

// ListSerialPorts enumerates the serial ports on the host.
func (s *System) ListSerialPorts() ([]string, error) {
	return s.listPorts()
}

// SendCommand writes a raw command to the microcontroller link.
func (s *System) SendCommand(command string) error {
	var err error
	s.do(func() {
		if !s.linkConnected {
			err = fmt.Errorf("microcontroller not connected")
			return
		}
		err = s.link.SendCommand(command)
	})
	return err
}

// PublishLog forwards a diagnostic line from a collaborator (the detection
// worker, typically) into the event stream. Safe from any goroutine; the bus
// serializes delivery.
func (s *System) PublishLog(message, level string) {
	s.bus.Publish(LogMessage{Message: message, Level: level})
}

// LightCommandString exposes the wire format of a light command, for
// presenters that render the command log.
func LightCommandString(approach int, light Light) string {
	return serialmux.LightCommand(approach, light.Letter())
}

// ApproachStatus is the presenter-facing snapshot of one approach.
type ApproachStatus struct {
	CameraConnected bool   `json:"camera_connected"`
	CameraURI       string `json:"camera_uri,omitempty"`
	VehicleCount    int    `json:"vehicle_count"`
	Density         string `json:"density"`
	Light           string `json:"light"`
}

// Status is the presenter-facing snapshot of the whole system.
type Status struct {
	Running          bool                           `json:"running"`
	EnergySaving     bool                           `json:"energy_saving"`
	CurrentApproach  int                            `json:"current_approach"`
	SecondsRemaining int                            `json:"seconds_remaining"`
	ArduinoConnected bool                           `json:"arduino_connected"`
	ArduinoPort      string                         `json:"arduino_port,omitempty"`
	Simulation       bool                           `json:"simulation"`
	Approaches       [NumApproaches]ApproachStatus `json:"approaches"`
}

// Snapshot captures the current system state.
func (s *System) Snapshot() Status {
	var st Status
	s.do(func() {
		st = Status{
			Running:          s.running,
			EnergySaving:     s.machine.EnergySaving(),
			CurrentApproach:  s.machine.Current(),
			SecondsRemaining: s.machine.Remaining(),
			ArduinoConnected: s.linkConnected,
			ArduinoPort:      s.linkPort,
			Simulation:       s.simulation,
		}
		for i, a := range s.approaches {
			st.Approaches[i] = ApproachStatus{
				CameraConnected: a.connected,
				CameraURI:       a.uri,
				VehicleCount:    a.vehicleCount,
				Density:         a.density.String(),
				Light:           s.machine.Light(i).String(),
			}
		}
	})
	return st
}
