package traffic

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/intersection/internal/config"
	"github.com/banshee-data/intersection/internal/monitoring"
	"github.com/banshee-data/intersection/internal/serialmux"
	"github.com/banshee-data/intersection/internal/timeutil"
	"github.com/banshee-data/intersection/internal/violations"
	"github.com/banshee-data/intersection/internal/vision"
)

const (
	// schedulerInterval is the frame-dispatch cadence.
	schedulerInterval = 50 * time.Millisecond
	// sensorPollInterval is the GET_SENSORS cadence while the link is up.
	sensorPollInterval = 250 * time.Millisecond
	// irCooldown debounces a single vehicle crossing the ground sensor.
	irCooldown = 5 * time.Second
	// linkBootDelay is how long the microcontroller needs after port open
	// before it will accept the INIT handshake.
	linkBootDelay = 2 * time.Second
)

// irCaptureDelays schedules the follow-up captures after an IR violation.
var irCaptureDelays = [...]time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}

// frameSource is the camera contract the scheduler needs: deliver the most
// recent decoded frame or report that this tick has nothing.
type frameSource interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// DetectionWorker is the contract the control loop needs from the detection
// pipeline. *vision.Worker satisfies it.
type DetectionWorker interface {
	Submit(vision.Job)
	Results() <-chan vision.Result
	SetThresholds(confidence, nms float32)
}

// approachState is the per-road state. Everything here is owned by the
// control goroutine except currentFrame, which is shared with violation
// capture callbacks and therefore guarded by frameMu; every consumer clones
// under the lock and releases before expensive work.
type approachState struct {
	uri       string
	source    frameSource
	connected bool

	frameMu      sync.Mutex
	currentFrame gocv.Mat

	vehicleCount int
	density      Density
	roi          image.Rectangle
	violatedIDs  map[int]struct{}

	irPrev          bool
	irCooldownUntil time.Time
}

func (a *approachState) cloneFrame() gocv.Mat {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	if a.currentFrame.Empty() {
		return gocv.NewMat()
	}
	return a.currentFrame.Clone()
}

func (a *approachState) storeFrame(frame gocv.Mat) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	if !a.currentFrame.Empty() {
		a.currentFrame.Close()
	}
	a.currentFrame = frame
}

func (a *approachState) reset() {
	a.vehicleCount = 0
	a.density = DensityOff
	a.uri = ""
	a.roi = image.Rectangle{}
	a.violatedIDs = make(map[int]struct{})
}

// System is the adaptive control core. A single control goroutine (Run) owns
// the phase machine, the scheduler, the serial link, and all approach state;
// the configuration surface posts operations onto that goroutine and waits
// for them, so no mutable state is touched concurrently.
type System struct {
	bus     *Bus
	machine *PhaseMachine
	worker  DetectionWorker
	store   *violations.Store

	approaches [NumApproaches]*approachState

	// link is never nil: a DisabledSerialMux stands in whenever no real
	// port is attached (simulation mode, link errors, startup), so command
	// sites need no connected checks.
	link          serialmux.SerialMuxInterface
	linkCancel    context.CancelFunc
	linkSubID     string
	linkLines     <-chan string
	linkPort      string
	linkConnected bool
	linkOptions   serialmux.PortOptions
	simulation    bool

	running      bool
	workerBusy   bool
	nextDispatch int

	energySavingEnabled       bool
	violationDetectionEnabled bool

	ops  chan func()
	done chan struct{}

	// seams for tests: clock, deferred execution, link construction
	clock     timeutil.Clock
	after     func(d time.Duration, f func())
	openLink  func(port string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)
	listPorts func() ([]string, error)
	bootDelay time.Duration
}

// NewSystem wires the control core around a detection worker and a violation
// store. store may be nil, in which case violations are emitted but not
// persisted. tuning may be nil for all defaults.
func NewSystem(worker DetectionWorker, store *violations.Store, tuning *config.Tuning) *System {
	if tuning == nil {
		tuning = config.Empty()
	}

	s := &System{
		bus:                       NewBus(),
		worker:                    worker,
		store:                     store,
		energySavingEnabled:       tuning.GetEnergySaving(),
		violationDetectionEnabled: tuning.GetViolationDetection(),
		link:                      serialmux.NewDisabledSerialMux(),
		linkOptions:               serialmux.PortOptions{BaudRate: tuning.GetBaudRate()},
		ops:                       make(chan func(), 64),
		done:                      make(chan struct{}),
		clock:                     timeutil.RealClock{},
		openLink: func(port string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			return serialmux.NewRealSerialMux(port, opts)
		},
		listPorts: serialmux.ListPorts,
		bootDelay: linkBootDelay,
	}
	s.after = func(d time.Duration, f func()) {
		time.AfterFunc(d, func() { s.post(f) })
	}

	for i := range s.approaches {
		s.approaches[i] = &approachState{
			currentFrame: gocv.NewMat(),
			violatedIDs:  make(map[int]struct{}),
		}
	}

	s.machine = NewPhaseMachine(
		func(approach int) Density { return s.approaches[approach].density },
		PhaseCallbacks{
			Light:        s.onLightChanged,
			CycleAdvance: s.onCycleAdvance,
			EnergySaving: s.onEnergySavingChanged,
		},
	)
	greens := tuning.GreenSeconds()
	for d, secs := range greens {
		s.machine.SetDuration(Density(d), secs)
	}
	s.machine.SetYellowSeconds(tuning.GetYellowSeconds())

	return s
}

// Events returns the core's event bus for presenters to subscribe to.
func (s *System) Events() *Bus { return s.bus }

// Run is the control goroutine: the frame-dispatch scheduler, the 1 Hz phase
// countdown, sensor polling, worker results, serial lines, and posted
// operations all execute here. Run blocks until ctx is cancelled.
func (s *System) Run(ctx context.Context) error {
	scheduler := s.clock.NewTicker(schedulerInterval)
	defer scheduler.Stop()
	countdown := s.clock.NewTicker(time.Second)
	defer countdown.Stop()
	sensors := s.clock.NewTicker(sensorPollInterval)
	defer sensors.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case op := <-s.ops:
			op()

		case <-scheduler.C():
			s.dispatchNext()

		case <-countdown.C():
			s.machine.TickSecond()

		case <-sensors.C():
			s.pollSensors()

		case res := <-s.worker.Results():
			s.applyResult(res)

		case line, ok := <-s.linkLines:
			if ok {
				s.handleLine(line)
			} else {
				s.linkLines = nil
			}
		}
	}
}

// post schedules f on the control goroutine without waiting for it.
func (s *System) post(f func()) {
	select {
	case s.ops <- f:
	case <-s.done:
	}
}

// do runs f on the control goroutine and waits for it to finish. Run must be
// active.
func (s *System) do(f func()) {
	completed := make(chan struct{})
	select {
	case s.ops <- func() { f(); close(completed) }:
	case <-s.done:
		return
	}
	select {
	case <-completed:
	case <-s.done:
	}
}

// ---- phase machine callbacks (control goroutine) ----

func (s *System) onLightChanged(approach int, light Light) {
	s.bus.Publish(TrafficLightChanged{Approach: approach, Light: light})
	cmd := serialmux.LightCommand(approach, light.Letter())
	if err := s.link.SendCommand(cmd); err != nil {
		s.logf(LevelError, "failed to send light command %q: %v", cmd, err)
	}
}

// onCycleAdvance clears the violated-ID sets at the boundary: the outgoing
// approach's red phase has just begun and the incoming approach's is about to
// end, so each vehicle ID can contribute at most one violation per red
// phase.
func (s *System) onCycleAdvance(outgoing, incoming int) {
	s.approaches[outgoing].violatedIDs = make(map[int]struct{})
	s.approaches[incoming].violatedIDs = make(map[int]struct{})
}

func (s *System) onEnergySavingChanged(active bool) {
	s.bus.Publish(EnergySavingStatusChanged{Active: active})
	if active {
		s.logf(LevelInfo, "Energy saving mode active: all approaches empty.")
	} else {
		s.logf(LevelInfo, "Energy saving mode left: traffic detected.")
	}
}

// ---- scheduler (control goroutine) ----

// dispatchNext rotates to the next connected approach and submits one cloned
// frame to the worker. Admission control: nothing is dispatched while a job
// is in flight, so the mailbox depth never exceeds one. Rotation advances
// even when an approach has nothing to offer, so a slow camera cannot starve
// the others.
func (s *System) dispatchNext() {
	if !s.running || s.workerBusy {
		return
	}

	for step := 0; step < NumApproaches; step++ {
		s.nextDispatch = (s.nextDispatch + 1) % NumApproaches
		if next := s.approaches[s.nextDispatch]; next.connected && next.source != nil {
			break
		}
	}
	idx := s.nextDispatch
	a := s.approaches[idx]
	if !a.connected || a.source == nil {
		return
	}

	frame := gocv.NewMat()
	if !a.source.Read(&frame) {
		frame.Close()
		return
	}

	s.workerBusy = true
	a.storeFrame(frame.Clone())
	s.worker.Submit(vision.Job{
		Approach: idx,
		Frame:    frame,
		ROI:      a.roi,
		Red:      s.machine.Light(idx) == LightRed,
	})
}

// applyResult folds one worker result back into control state: counts,
// density, overlays, tracker-attributed violations, then the energy-saving
// re-evaluation.
func (s *System) applyResult(res vision.Result) {
	s.workerBusy = false
	if res.Approach < 0 || res.Approach >= NumApproaches {
		res.Frame.Close()
		return
	}
	a := s.approaches[res.Approach]

	if a.vehicleCount != res.Count {
		a.vehicleCount = res.Count
		s.bus.Publish(VehicleCountChanged{Approach: res.Approach, Count: res.Count})
		if d := ClassifyDensity(res.Count); d != a.density {
			a.density = d
			s.bus.Publish(DensityChanged{Approach: res.Approach, Density: d})
		}
	}

	if img := matImage(res.Frame); img != nil {
		s.bus.Publish(FrameUpdated{Approach: res.Approach, Frame: img})
	}
	res.Frame.Close()

	if s.violationDetectionEnabled {
		for _, id := range res.ViolatingIDs {
			if _, seen := a.violatedIDs[id]; seen {
				continue
			}
			s.recordTrackerViolation(res.Approach, id)
			a.violatedIDs[id] = struct{}{}
		}
	}

	if s.running {
		s.machine.EvaluateEnergySaving(s.energySavingEnabled, s.allConnectedEmpty())
		if !s.machine.EnergySaving() {
			s.machine.Wake(s.anyVehicles())
		}
	}
}

func (s *System) allConnectedEmpty() bool {
	for _, a := range s.approaches {
		if a.connected && a.vehicleCount > 0 {
			return false
		}
	}
	return true
}

func (s *System) anyVehicles() bool {
	for _, a := range s.approaches {
		if a.vehicleCount > 0 {
			return true
		}
	}
	return false
}

// ---- violations (control goroutine) ----

func (s *System) recordTrackerViolation(approach, vehicleID int) {
	ts := violations.Timestamp(s.clock.Now())
	reason := fmt.Sprintf("Vehicle ID %d ran red light", vehicleID)

	a := s.approaches[approach]
	frame := a.cloneFrame()
	imagePath := ""
	if !frame.Empty() && s.store != nil {
		path := s.store.TrackerImagePath(approach, ts)
		if err := s.store.SaveFrame(path, frame); err != nil {
			s.logf(LevelError, "Failed to save violation image: %v", err)
		} else {
			imagePath = path
		}
	}
	s.insertRecord(violations.Record{
		Approach:  approach,
		Timestamp: ts,
		Reason:    reason,
		ImagePath: imagePath,
	})

	img := matImage(frame)
	frame.Close()
	s.bus.Publish(ViolationDetected{Approach: approach, Timestamp: ts, Reason: reason, Frame: img})
	s.logf(LevelViolation, "%s", reason)
}

func (s *System) recordIRViolation(approach int) {
	now := s.clock.Now()
	a := s.approaches[approach]
	a.irCooldownUntil = now.Add(irCooldown)

	ts := violations.Timestamp(now)
	reason := fmt.Sprintf("IR sensor triggered on red light for Road %d", approach+1)

	imagePath := s.saveIRCapture(approach, 1, ts)
	for i, delay := range irCaptureDelays {
		imageNum := i + 2
		s.after(delay, func() { s.saveIRCapture(approach, imageNum, ts) })
	}

	s.insertRecord(violations.Record{
		Approach:  approach,
		Timestamp: ts,
		Reason:    reason,
		ImagePath: imagePath,
	})

	frame := a.cloneFrame()
	img := matImage(frame)
	frame.Close()
	s.bus.Publish(ViolationDetected{Approach: approach, Timestamp: ts, Reason: reason, Frame: img})
	s.logf(LevelViolation, "%s", reason)
}

// saveIRCapture writes one of the three staged IR captures from the
// approach's currently-held frame and returns the written path, empty on
// failure.
func (s *System) saveIRCapture(approach, imageNum int, ts string) string {
	if s.store == nil {
		return ""
	}
	frame := s.approaches[approach].cloneFrame()
	defer frame.Close()
	if frame.Empty() {
		return ""
	}
	path := s.store.IRImagePath(approach, imageNum, ts)
	if err := s.store.SaveFrame(path, frame); err != nil {
		s.logf(LevelError, "Failed to save IR violation image: %v", err)
		return ""
	}
	return path
}

func (s *System) insertRecord(rec violations.Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Insert(rec); err != nil {
		s.logf(LevelError, "Failed to record violation metadata: %v", err)
	}
}

// ---- serial link (control goroutine) ----

func (s *System) pollSensors() {
	if !s.running || !s.linkConnected {
		return
	}
	if err := s.link.SendCommand(serialmux.CommandGetSensors); err != nil {
		s.logf(LevelError, "Sensor poll failed: %v", err)
	}
}

// handleLine parses one inbound serial line. For each approach a rising IR
// edge during RED raises a violation, subject to the per-approach cooldown.
func (s *System) handleLine(line string) {
	states, ok := serialmux.ParseSensorLine(line)
	if !ok {
		return
	}
	for i := range states {
		a := s.approaches[i]
		rising := states[i] && !a.irPrev
		if rising &&
			s.machine.Light(i) == LightRed &&
			s.violationDetectionEnabled &&
			!s.clock.Now().Before(a.irCooldownUntil) {
			s.recordIRViolation(i)
		}
		a.irPrev = states[i]
	}
}

func (s *System) handleLinkError(err error) {
	if !s.linkConnected {
		return
	}
	s.logf(LevelError, "Serial link error: %v", err)
	s.teardownLink()
	s.bus.Publish(ArduinoStatusChanged{Connected: false, Port: ""})
}

// teardownLink releases any real port and swaps the no-op mux back in.
func (s *System) teardownLink() {
	if s.linkSubID != "" {
		s.link.Unsubscribe(s.linkSubID)
	}
	s.link.Close()
	if s.linkCancel != nil {
		s.linkCancel()
	}
	s.link = serialmux.NewDisabledSerialMux()
	s.linkCancel = nil
	s.linkSubID = ""
	s.linkLines = nil
	s.linkConnected = false
	s.linkPort = ""
}

func (s *System) initializeArduino(portName string) error {
	s.teardownLink()

	port := portName
	if port == "" {
		ports, err := s.listPorts()
		if err == nil && len(ports) > 0 {
			port = ports[0]
		}
	}
	if port == "" {
		s.logf(LevelWarning, "No serial ports found. Using simulation.")
		return fmt.Errorf("no serial ports available")
	}

	link, err := s.openLink(port, s.linkOptions)
	if err != nil {
		s.logf(LevelError, "Failed to open serial port %s: %v", port, err)
		return err
	}

	s.link = link
	s.linkPort = port
	s.linkConnected = true
	s.linkSubID, s.linkLines = link.Subscribe()

	linkCtx, cancel := context.WithCancel(context.Background())
	s.linkCancel = cancel
	go func() {
		err := link.Monitor(linkCtx)
		if err != nil && err != context.Canceled {
			s.post(func() { s.handleLinkError(err) })
		}
	}()

	// INIT is deferred past the microcontroller's own boot settle time.
	s.after(s.bootDelay, func() {
		if err := s.link.Initialize(); err != nil {
			s.logf(LevelError, "Link init handshake failed: %v", err)
		}
	})

	s.bus.Publish(ArduinoStatusChanged{Connected: true, Port: port})
	s.logf(LevelInfo, "Microcontroller connected on port %s", port)
	return nil
}

// ---- cameras (control goroutine) ----

func (s *System) connectCamera(approach int, uri string) error {
	if approach < 0 || approach >= NumApproaches {
		return fmt.Errorf("invalid approach %d", approach)
	}
	s.disconnectCamera(approach)

	source, err := vision.OpenSource(uri)
	if err != nil {
		s.logf(LevelError, "Failed to open camera source: %s", uri)
		return err
	}

	a := s.approaches[approach]
	a.source = source
	a.uri = uri
	a.connected = true
	s.bus.Publish(CameraStatusChanged{Approach: approach, Connected: true})
	s.logf(LevelInfo, "Camera %d connected to source: %s", approach+1, uri)
	return nil
}

func (s *System) disconnectCamera(approach int) {
	if approach < 0 || approach >= NumApproaches {
		return
	}
	a := s.approaches[approach]
	if !a.connected {
		return
	}
	if a.source != nil {
		a.source.Close()
		a.source = nil
	}
	a.connected = false
	a.reset()
	a.storeFrame(gocv.NewMat())
	s.bus.Publish(CameraStatusChanged{Approach: approach, Connected: false})
	s.logf(LevelInfo, "Camera %d disconnected.", approach+1)
}

// ---- start/stop/shutdown (control goroutine) ----

func (s *System) start() {
	if s.running {
		return
	}
	s.running = true
	s.nextDispatch = 0
	s.machine.Start()
	s.logf(LevelInfo, "Traffic system started.")
}

func (s *System) stop() {
	if !s.running {
		return
	}
	s.running = false
	s.machine.Stop(s.energySavingEnabled)
	s.logf(LevelInfo, "Traffic system stopped.")
}

func (s *System) shutdown() {
	s.stop()
	s.teardownLink()
	for i := range s.approaches {
		s.disconnectCamera(i)
		a := s.approaches[i]
		a.frameMu.Lock()
		if !a.currentFrame.Empty() {
			a.currentFrame.Close()
		}
		a.frameMu.Unlock()
	}
	close(s.done)
	s.bus.Close()
}

func (s *System) logf(level, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	monitoring.Logf("[%s] %s", level, msg)
	s.bus.Publish(LogMessage{Message: msg, Level: level})
}

func matImage(m gocv.Mat) image.Image {
	if m.Empty() {
		return nil
	}
	img, err := m.ToImage()
	if err != nil {
		return nil
	}
	return img
}
