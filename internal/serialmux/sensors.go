package serialmux

import "strings"

// sensorPrefix introduces an IR ground-sensor report from the
// microcontroller: SENSORS:<b0>,<b1>,<b2>,<b3> with each b either "0" or "1".
const sensorPrefix = "SENSORS:"

// SensorStates is the IR-sensor bitmap for the four approaches.
type SensorStates [4]bool

// ParseSensorLine parses one inbound line. ok is false for lines that are not
// well-formed sensor reports; those are ignored by the controller.
func ParseSensorLine(line string) (states SensorStates, ok bool) {
	if !strings.HasPrefix(line, sensorPrefix) {
		return states, false
	}
	fields := strings.Split(strings.TrimSpace(line[len(sensorPrefix):]), ",")
	if len(fields) != len(states) {
		return states, false
	}
	for i, f := range fields {
		switch strings.TrimSpace(f) {
		case "1":
			states[i] = true
		case "0":
			states[i] = false
		default:
			return SensorStates{}, false
		}
	}
	return states, true
}
