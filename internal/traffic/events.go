package traffic

import (
	"image"
	"sync"

	"github.com/google/uuid"
)

// Log levels carried by LogMessage events.
const (
	LevelInfo      = "INFO"
	LevelWarning   = "WARNING"
	LevelError     = "ERROR"
	LevelAction    = "ACTION"
	LevelViolation = "VIOLATION"
)

// Event is one entry in the core's ordered event stream. Presenters switch on
// the concrete type.
type Event interface {
	isEvent()
}

// VehicleCountChanged is emitted only when an approach's count changes.
type VehicleCountChanged struct {
	Approach int
	Count    int
}

// DensityChanged is emitted only when an approach's density bucket changes.
type DensityChanged struct {
	Approach int
	Density  Density
}

// TrafficLightChanged is emitted once per actual light transition.
type TrafficLightChanged struct {
	Approach int
	Light    Light
}

// FrameUpdated carries a processed frame with tracker overlays rendered.
type FrameUpdated struct {
	Approach int
	Frame    image.Image
}

// ViolationDetected is emitted once per recorded violation.
type ViolationDetected struct {
	Approach  int
	Timestamp string
	Reason    string
	Frame     image.Image
}

// CameraStatusChanged reports camera connect/disconnect.
type CameraStatusChanged struct {
	Approach  int
	Connected bool
}

// ArduinoStatusChanged reports the microcontroller link state.
type ArduinoStatusChanged struct {
	Connected bool
	Port      string
}

// EnergySavingStatusChanged reports entry/exit of energy-saving mode.
type EnergySavingStatusChanged struct {
	Active bool
}

// LogMessage is a diagnostic line for the presenter's log sink.
type LogMessage struct {
	Message string
	Level   string
}

func (VehicleCountChanged) isEvent()       {}
func (DensityChanged) isEvent()            {}
func (TrafficLightChanged) isEvent()       {}
func (FrameUpdated) isEvent()              {}
func (ViolationDetected) isEvent()         {}
func (CameraStatusChanged) isEvent()       {}
func (ArduinoStatusChanged) isEvent()      {}
func (EnergySavingStatusChanged) isEvent() {}
func (LogMessage) isEvent()                {}

// eventBuffer bounds how far a slow presenter may lag before events are
// dropped for it.
const eventBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose channel is full misses the event, which keeps the control goroutine
// independent of presenter speed.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan Event
	closing bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its ID and channel.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, eventBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel; subsequent subscriptions are
// returned already closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
