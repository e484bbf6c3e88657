package serialmux

import "fmt"

// Outbound command vocabulary. Every command is LF-terminated ASCII;
// SendCommand appends the terminator.
const (
	// CommandInit announces the host after the microcontroller's boot
	// settle time.
	CommandInit = "INIT"
	// CommandGetSensors polls the IR ground-sensor bitmap.
	CommandGetSensors = "GET_SENSORS"
)

// LightCommand formats a light transition for one approach. letter is the
// single-character light code: R, Y, G, or F for off.
func LightCommand(approach int, letter byte) string {
	return fmt.Sprintf("L_%d_%c", approach, letter)
}
