// Package config holds the typed runtime tunables for the intersection
// controller. Fields are pointers so a partial JSON document overrides only
// what it names; the Get* accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Tuning is the root tunable set, read once at startup from an optional JSON
// file.
type Tuning struct {
	// Green-phase durations in seconds, one per density bucket
	GreenOffSeconds      *int `json:"green_off_seconds,omitempty"`
	GreenLowSeconds      *int `json:"green_low_seconds,omitempty"`
	GreenMediumSeconds   *int `json:"green_medium_seconds,omitempty"`
	GreenHighSeconds     *int `json:"green_high_seconds,omitempty"`
	GreenVeryHighSeconds *int `json:"green_very_high_seconds,omitempty"`

	// Yellow sub-phase duration in seconds, independent of density
	YellowSeconds *int `json:"yellow_seconds,omitempty"`

	// Feature toggles
	EnergySaving       *bool `json:"energy_saving,omitempty"`
	ViolationDetection *bool `json:"violation_detection,omitempty"`

	// Detector thresholds
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	NMSThreshold        *float64 `json:"nms_threshold,omitempty"`

	// Microcontroller link
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
}

// Defaults for every tunable.
const (
	DefaultGreenOffSeconds      = 5
	DefaultGreenLowSeconds      = 8
	DefaultGreenMediumSeconds   = 12
	DefaultGreenHighSeconds     = 18
	DefaultGreenVeryHighSeconds = 25
	DefaultYellowSeconds        = 3
	DefaultEnergySaving         = true
	DefaultViolationDetection   = true
	DefaultConfidenceThreshold  = 0.45
	DefaultNMSThreshold         = 0.40
	DefaultBaudRate             = 9600
)

// Empty returns a Tuning with every field unset.
func Empty() *Tuning {
	return &Tuning{}
}

// Load reads a Tuning from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that every set field holds a usable value.
func (c *Tuning) Validate() error {
	for _, d := range []struct {
		name  string
		value *int
	}{
		{"green_off_seconds", c.GreenOffSeconds},
		{"green_low_seconds", c.GreenLowSeconds},
		{"green_medium_seconds", c.GreenMediumSeconds},
		{"green_high_seconds", c.GreenHighSeconds},
		{"green_very_high_seconds", c.GreenVeryHighSeconds},
		{"yellow_seconds", c.YellowSeconds},
	} {
		if d.value != nil && *d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", d.name, *d.value)
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold <= 0 || *c.ConfidenceThreshold >= 1 {
			return fmt.Errorf("confidence_threshold must be in (0, 1), got %f", *c.ConfidenceThreshold)
		}
	}
	if c.NMSThreshold != nil {
		if *c.NMSThreshold <= 0 || *c.NMSThreshold >= 1 {
			return fmt.Errorf("nms_threshold must be in (0, 1), got %f", *c.NMSThreshold)
		}
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	return nil
}

// GreenSeconds returns the five green durations in density-bucket order.
func (c *Tuning) GreenSeconds() [5]int {
	return [5]int{
		intOr(c.GreenOffSeconds, DefaultGreenOffSeconds),
		intOr(c.GreenLowSeconds, DefaultGreenLowSeconds),
		intOr(c.GreenMediumSeconds, DefaultGreenMediumSeconds),
		intOr(c.GreenHighSeconds, DefaultGreenHighSeconds),
		intOr(c.GreenVeryHighSeconds, DefaultGreenVeryHighSeconds),
	}
}

// GetYellowSeconds returns the yellow sub-phase duration.
func (c *Tuning) GetYellowSeconds() int {
	return intOr(c.YellowSeconds, DefaultYellowSeconds)
}

// GetEnergySaving reports whether energy-saving mode is enabled.
func (c *Tuning) GetEnergySaving() bool {
	return boolOr(c.EnergySaving, DefaultEnergySaving)
}

// GetViolationDetection reports whether violation recording is enabled.
func (c *Tuning) GetViolationDetection() bool {
	return boolOr(c.ViolationDetection, DefaultViolationDetection)
}

// GetConfidenceThreshold returns the detector confidence threshold.
func (c *Tuning) GetConfidenceThreshold() float64 {
	return floatOr(c.ConfidenceThreshold, DefaultConfidenceThreshold)
}

// GetNMSThreshold returns the detector NMS threshold.
func (c *Tuning) GetNMSThreshold() float64 {
	return floatOr(c.NMSThreshold, DefaultNMSThreshold)
}

// GetSerialPort returns the configured serial port, empty for auto-pick.
func (c *Tuning) GetSerialPort() string {
	if c.SerialPort != nil {
		return *c.SerialPort
	}
	return ""
}

// GetBaudRate returns the serial baud rate.
func (c *Tuning) GetBaudRate() int {
	return intOr(c.BaudRate, DefaultBaudRate)
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}
