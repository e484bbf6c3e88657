package traffic

import "testing"

// machineHarness records every transition the machine emits so tests can
// assert ordering and uniqueness.
type machineHarness struct {
	m          *PhaseMachine
	densities  [NumApproaches]Density
	lights     []struct {
		approach int
		light    Light
	}
	advances []struct{ outgoing, incoming int }
	saving   []bool
}

func newMachineHarness() *machineHarness {
	h := &machineHarness{}
	h.m = NewPhaseMachine(
		func(approach int) Density { return h.densities[approach] },
		PhaseCallbacks{
			Light: func(approach int, light Light) {
				h.lights = append(h.lights, struct {
					approach int
					light    Light
				}{approach, light})
			},
			CycleAdvance: func(outgoing, incoming int) {
				h.advances = append(h.advances, struct{ outgoing, incoming int }{outgoing, incoming})
			},
			EnergySaving: func(active bool) { h.saving = append(h.saving, active) },
		},
	)
	return h
}

func greens(lights [NumApproaches]Light) int {
	n := 0
	for _, l := range lights {
		if l == LightGreen {
			n++
		}
	}
	return n
}

func TestStartGrantsGreenToApproachZero(t *testing.T) {
	h := newMachineHarness()
	h.densities[0] = DensityHigh
	h.m.Start()

	if h.m.Light(0) != LightGreen {
		t.Errorf("approach 0 = %v, want GREEN", h.m.Light(0))
	}
	for i := 1; i < NumApproaches; i++ {
		if h.m.Light(i) != LightRed {
			t.Errorf("approach %d = %v, want RED", i, h.m.Light(i))
		}
	}
	if h.m.Remaining() != 18 {
		t.Errorf("remaining = %d, want 18 for HIGH density", h.m.Remaining())
	}
}

// Adaptive green length: approach 0 at count 8 (HIGH) runs green for 18 s,
// yellow for 3 s, then approach 1 (empty, OFF bucket) runs green for 5 s.
func TestAdaptiveGreenLength(t *testing.T) {
	h := newMachineHarness()
	h.densities[0] = ClassifyDensity(8)
	h.m.Start()

	for sec := 0; sec < 18; sec++ {
		if h.m.Light(0) != LightGreen {
			t.Fatalf("approach 0 left GREEN after %d s, want 18 s", sec)
		}
		h.m.TickSecond()
	}
	if h.m.Light(0) != LightYellow {
		t.Fatalf("approach 0 = %v after green expiry, want YELLOW", h.m.Light(0))
	}

	for sec := 0; sec < 3; sec++ {
		if h.m.Light(0) != LightYellow {
			t.Fatalf("approach 0 left YELLOW after %d s, want 3 s", sec)
		}
		h.m.TickSecond()
	}

	if h.m.Light(0) != LightRed {
		t.Errorf("approach 0 = %v after yellow expiry, want RED", h.m.Light(0))
	}
	if h.m.Light(1) != LightGreen {
		t.Errorf("approach 1 = %v, want GREEN", h.m.Light(1))
	}
	if h.m.Remaining() != 5 {
		t.Errorf("remaining = %d, want 5 for OFF bucket", h.m.Remaining())
	}
}

func TestAtMostOneGreenThroughFullCycle(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()

	// drive four complete phases and check the invariant at every second
	for sec := 0; sec < 4*(25+3)+5; sec++ {
		if n := greens(h.m.Lights()); n > 1 {
			t.Fatalf("%d approaches GREEN at second %d", n, sec)
		}
		h.m.TickSecond()
	}
}

func TestGreenAlwaysFollowedByYellowThenRed(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	for sec := 0; sec < 4*(25+3)+5; sec++ {
		h.m.TickSecond()
	}

	last := make(map[int]Light)
	for _, tr := range h.lights {
		prev, seen := last[tr.approach]
		if seen && prev == LightGreen && tr.light != LightYellow {
			t.Fatalf("approach %d went GREEN → %v, want YELLOW", tr.approach, tr.light)
		}
		if seen && prev == LightYellow && tr.light != LightRed {
			t.Fatalf("approach %d went YELLOW → %v, want RED", tr.approach, tr.light)
		}
		last[tr.approach] = tr.light
	}
}

func TestCycleAdvanceVisitsApproachesRoundRobin(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	for sec := 0; sec < 3*(5+3)+1; sec++ {
		h.m.TickSecond()
	}

	if len(h.advances) < 3 {
		t.Fatalf("expected at least 3 hand-overs, got %d", len(h.advances))
	}
	for i, adv := range h.advances {
		if adv.outgoing != i%NumApproaches {
			t.Errorf("hand-over %d outgoing = %d, want %d", i, adv.outgoing, i%NumApproaches)
		}
		if adv.incoming != (i+1)%NumApproaches {
			t.Errorf("hand-over %d incoming = %d, want %d", i, adv.incoming, (i+1)%NumApproaches)
		}
	}
}

func TestEnergySavingEntryAndExit(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()

	h.m.EvaluateEnergySaving(true, true)
	if !h.m.EnergySaving() {
		t.Fatal("expected energy saving to engage with all approaches empty")
	}
	for i := 0; i < NumApproaches; i++ {
		if h.m.Light(i) != LightOff {
			t.Errorf("approach %d = %v in energy saving, want OFF", i, h.m.Light(i))
		}
	}
	if len(h.saving) != 1 || !h.saving[0] {
		t.Fatalf("saving notifications = %v, want [true]", h.saving)
	}

	// countdown is halted while dark
	h.m.TickSecond()
	h.m.TickSecond()
	if h.m.EnergySaving() != true {
		t.Fatal("ticks must not leave energy saving")
	}

	// traffic reappears
	h.densities[2] = DensityLow
	h.m.EvaluateEnergySaving(true, false)
	if h.m.EnergySaving() {
		t.Fatal("expected energy saving to disengage")
	}
	if h.m.Light(h.m.Current()) != LightGreen {
		t.Errorf("current approach = %v after exit, want GREEN", h.m.Light(h.m.Current()))
	}
	if len(h.saving) != 2 || h.saving[1] {
		t.Fatalf("saving notifications = %v, want [true false]", h.saving)
	}
}

func TestEnergySavingDisabledForcesExit(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	h.m.EvaluateEnergySaving(true, true)
	if !h.m.EnergySaving() {
		t.Fatal("expected energy saving to engage")
	}

	h.m.EvaluateEnergySaving(false, true)
	if h.m.EnergySaving() {
		t.Fatal("disabling the feature must leave energy saving")
	}
	if h.m.Light(h.m.Current()) != LightGreen {
		t.Errorf("current approach = %v, want GREEN after forced exit", h.m.Light(h.m.Current()))
	}
}

func TestWakeRestartsCycleWhenTrafficReturns(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	h.m.EvaluateEnergySaving(true, true)
	// feature toggled off while dark: the forced exit relights the current
	// approach straight away
	h.m.EvaluateEnergySaving(false, true)

	h.m.Wake(false)
	if h.m.Light(h.m.Current()) == LightOff {
		// forced exit already relit; if not, a wake with traffic must
		h.m.Wake(true)
		if h.m.Light(h.m.Current()) != LightGreen {
			t.Errorf("current approach = %v after wake, want GREEN", h.m.Light(h.m.Current()))
		}
	}
}

func TestStopFailSafe(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	h.m.Stop(false)
	for i := 0; i < NumApproaches; i++ {
		if h.m.Light(i) != LightRed {
			t.Errorf("approach %d = %v after stop, want RED fail-safe", i, h.m.Light(i))
		}
	}

	h2 := newMachineHarness()
	h2.m.Start()
	h2.m.Stop(true)
	for i := 0; i < NumApproaches; i++ {
		if h2.m.Light(i) != LightOff {
			t.Errorf("approach %d = %v after stop, want OFF with energy saving", i, h2.m.Light(i))
		}
	}
}

func TestNoDuplicateLightTransitions(t *testing.T) {
	h := newMachineHarness()
	h.m.Start()
	for sec := 0; sec < 2*(5+3)+1; sec++ {
		h.m.TickSecond()
	}

	last := make(map[int]Light)
	for _, tr := range h.lights {
		if prev, seen := last[tr.approach]; seen && prev == tr.light {
			t.Fatalf("approach %d emitted duplicate %v transition", tr.approach, tr.light)
		}
		last[tr.approach] = tr.light
	}
}

func TestTimingReconfigurationIsIdempotent(t *testing.T) {
	build := func() *machineHarness {
		h := newMachineHarness()
		h.m.SetDuration(DensityOff, 7)
		h.m.SetYellowSeconds(2)
		return h
	}

	a, b := build(), build()
	// applying the same configuration twice must not change behaviour
	b.m.SetDuration(DensityOff, 7)
	b.m.SetYellowSeconds(2)

	a.m.Start()
	b.m.Start()
	for sec := 0; sec < 30; sec++ {
		if a.m.Lights() != b.m.Lights() {
			t.Fatalf("behaviour diverged at second %d: %v vs %v", sec, a.m.Lights(), b.m.Lights())
		}
		a.m.TickSecond()
		b.m.TickSecond()
	}
}
