package traffic

// PhaseCallbacks are the hooks a PhaseMachine invokes as it moves through the
// cycle. Any nil callback is skipped. All callbacks fire synchronously on the
// caller's goroutine, which in the running system is the control goroutine.
type PhaseCallbacks struct {
	// Light fires once per actual light change; unchanged assignments are
	// suppressed so a cycle restarting at the same approach never emits a
	// GREEN to GREEN transition.
	Light func(approach int, light Light)
	// CycleAdvance fires when the served approach hands over: outgoing has
	// just turned RED, incoming is about to turn GREEN. The owner clears
	// both approaches' violated-ID sets here.
	CycleAdvance func(outgoing, incoming int)
	// EnergySaving fires on entry to and exit from energy-saving mode.
	EnergySaving func(active bool)
}

// PhaseMachine runs the four-approach round-robin signal cycle. It is a pure
// state machine: time advances only through TickSecond, so tests can step it
// deterministically. It is not safe for concurrent use; the System drives it
// from the control goroutine only.
type PhaseMachine struct {
	durations Durations
	yellow    int

	densityOf func(approach int) Density
	cb        PhaseCallbacks

	lights       [NumApproaches]Light
	current      int
	yellowActive bool
	remaining    int
	counting     bool
	running      bool
	energySaving bool
}

// NewPhaseMachine returns a stopped machine with all lights OFF. densityOf
// reports the density bucket of an approach at the moment it is granted
// GREEN; it must not be nil.
func NewPhaseMachine(densityOf func(approach int) Density, cb PhaseCallbacks) *PhaseMachine {
	return &PhaseMachine{
		durations: DefaultDurations(),
		yellow:    DefaultYellowSeconds,
		densityOf: densityOf,
		cb:        cb,
	}
}

// SetDuration updates the green duration for one density bucket.
func (m *PhaseMachine) SetDuration(d Density, seconds int) {
	if d >= 0 && int(d) < len(m.durations) && seconds > 0 {
		m.durations[d] = seconds
	}
}

// SetYellowSeconds updates the fixed yellow sub-phase duration.
func (m *PhaseMachine) SetYellowSeconds(seconds int) {
	if seconds > 0 {
		m.yellow = seconds
	}
}

// Start enters the cycle at approach 0.
func (m *PhaseMachine) Start() {
	if m.running {
		return
	}
	m.running = true
	m.current = 0
	m.yellowActive = false
	m.remaining = 0
	m.counting = false
	m.beginCycle()
}

// Stop halts the cycle. With allOff the lights are extinguished (energy
// saving enabled); otherwise every approach is driven RED as the fail-safe.
func (m *PhaseMachine) Stop(allOff bool) {
	if !m.running {
		return
	}
	m.running = false
	m.counting = false
	m.energySaving = false
	target := LightRed
	if allOff {
		target = LightOff
	}
	for i := 0; i < NumApproaches; i++ {
		m.setLight(i, target)
	}
}

// TickSecond advances the active countdown by one second. It is a no-op while
// the machine is stopped, in energy saving, or between phases.
func (m *PhaseMachine) TickSecond() {
	if !m.running || m.energySaving {
		m.counting = false
		return
	}
	if !m.counting {
		return
	}
	if m.remaining > 0 {
		m.remaining--
	}
	if m.remaining <= 0 {
		m.counting = false
		m.advance()
	}
}

// EvaluateEnergySaving reconsiders energy-saving mode. allEmpty must be true
// exactly when every approach with a connected camera reports zero vehicles.
func (m *PhaseMachine) EvaluateEnergySaving(enabled, allEmpty bool) {
	if !m.running {
		return
	}
	if !enabled {
		if m.energySaving {
			m.energySaving = false
			m.emitEnergySaving(false)
			m.beginCycle()
		}
		return
	}
	if allEmpty && !m.energySaving {
		m.energySaving = true
		m.counting = false
		m.yellowActive = false
		for i := 0; i < NumApproaches; i++ {
			m.setLight(i, LightOff)
		}
		m.emitEnergySaving(true)
	} else if !allEmpty && m.energySaving {
		m.energySaving = false
		m.emitEnergySaving(false)
		m.beginCycle()
	}
}

// Wake re-enters the cycle when the current approach was left dark by energy
// saving but traffic has reappeared somewhere.
func (m *PhaseMachine) Wake(anyVehicles bool) {
	if !m.running || m.energySaving {
		return
	}
	if m.lights[m.current] == LightOff && anyVehicles {
		m.beginCycle()
	}
}

// beginCycle grants GREEN to the current approach and RED to the rest, with
// the countdown seeded from the current approach's density.
func (m *PhaseMachine) beginCycle() {
	if !m.running || m.energySaving || m.yellowActive || m.counting {
		return
	}
	for i := 0; i < NumApproaches; i++ {
		if i == m.current {
			m.setLight(i, LightGreen)
		} else {
			m.setLight(i, LightRed)
		}
	}
	m.remaining = m.durations[m.densityOf(m.current)]
	m.counting = true
}

// advance moves GREEN → YELLOW, then YELLOW → RED plus hand-over to the next
// approach.
func (m *PhaseMachine) advance() {
	if m.energySaving {
		return
	}
	if !m.yellowActive {
		m.setLight(m.current, LightYellow)
		m.yellowActive = true
		m.remaining = m.yellow
		m.counting = true
		return
	}
	m.yellowActive = false
	m.setLight(m.current, LightRed)
	outgoing := m.current
	m.current = (m.current + 1) % NumApproaches
	if m.cb.CycleAdvance != nil {
		m.cb.CycleAdvance(outgoing, m.current)
	}
	m.beginCycle()
}

func (m *PhaseMachine) setLight(approach int, light Light) {
	if m.lights[approach] == light {
		return
	}
	m.lights[approach] = light
	if m.cb.Light != nil {
		m.cb.Light(approach, light)
	}
}

func (m *PhaseMachine) emitEnergySaving(active bool) {
	if m.cb.EnergySaving != nil {
		m.cb.EnergySaving(active)
	}
}

// Lights returns the current light assignment of all approaches.
func (m *PhaseMachine) Lights() [NumApproaches]Light { return m.lights }

// Light returns the light of one approach.
func (m *PhaseMachine) Light(approach int) Light {
	if approach < 0 || approach >= NumApproaches {
		return LightOff
	}
	return m.lights[approach]
}

// Current returns the approach currently being served.
func (m *PhaseMachine) Current() int { return m.current }

// Remaining returns the seconds left on the active sub-phase.
func (m *PhaseMachine) Remaining() int { return m.remaining }

// Running reports whether the cycle is active.
func (m *PhaseMachine) Running() bool { return m.running }

// EnergySaving reports whether the machine is in energy-saving mode.
func (m *PhaseMachine) EnergySaving() bool { return m.energySaving }

// YellowActive reports whether the served approach is in its yellow
// sub-phase.
func (m *PhaseMachine) YellowActive() bool { return m.yellowActive }
