// Package track associates vehicle detections across frames for a single
// intersection approach. Association is greedy single-pass IoU: cheap,
// allocation-light, and deterministic given the input order, which is all the
// duty-cycled pipeline needs at 20 Hz.
package track

import (
	"image"
	"sort"
)

// Config holds tracker tuning parameters.
type Config struct {
	// IoUThreshold is the minimum intersection-over-union for a detection to
	// be bound to an existing vehicle.
	IoUThreshold float64
	// MaxMissedFrames is how many processed frames a vehicle may go
	// undetected before its track is dropped.
	MaxMissedFrames int
	// ViolationFrames is how many consecutive red-light frames a vehicle
	// must persist before it is reported as a violation.
	ViolationFrames int
}

// DefaultConfig returns the stock tracker tuning.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:    0.30,
		MaxMissedFrames: 15,
		ViolationFrames: 15,
	}
}

// Vehicle is one tracked identity on an approach.
type Vehicle struct {
	ID           int
	Box          image.Rectangle
	MissedFrames int

	// ViolationCandidate is set while the vehicle is continuously matched
	// during a red phase; ViolationRedFrames counts those matches.
	ViolationCandidate bool
	ViolationRedFrames int
}

// Tracker maintains the vehicle identities of a single approach. It is not
// safe for concurrent use; the detection worker owns one tracker per
// approach.
type Tracker struct {
	cfg      Config
	vehicles map[int]*Vehicle
	nextID   int
}

// NewTracker returns an empty tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg,
		vehicles: make(map[int]*Vehicle),
	}
}

// Update runs one association pass. red states whether the approach's light
// was RED when the frame was captured. It returns the live vehicle count and
// the IDs currently qualifying as red-light violations (persisted as
// candidates beyond the violation-frame threshold); de-duplication against
// already-recorded violators is the controller's job.
func (t *Tracker) Update(detections []image.Rectangle, red bool) (count int, violating []int) {
	used := make([]bool, len(detections))

	// Examine existing vehicles in ascending ID order so the tie-break rule
	// is deterministic: the first-examined vehicle claims a contested
	// detection, later ones accumulate disappearance.
	for _, id := range t.sortedIDs() {
		v := t.vehicles[id]
		v.MissedFrames++

		bestIdx := -1
		bestIoU := 0.0
		for i, det := range detections {
			if used[i] {
				continue
			}
			if iou := IoU(v.Box, det); iou > bestIoU {
				bestIoU = iou
				bestIdx = i
			}
		}

		if bestIoU > t.cfg.IoUThreshold {
			v.Box = detections[bestIdx]
			v.MissedFrames = 0
			used[bestIdx] = true

			if red {
				v.ViolationRedFrames++
				v.ViolationCandidate = true
			} else {
				v.ViolationRedFrames = 0
				v.ViolationCandidate = false
			}
		}
	}

	// Drop vehicles unseen for too long.
	for id, v := range t.vehicles {
		if v.MissedFrames > t.cfg.MaxMissedFrames {
			delete(t.vehicles, id)
		}
	}

	// Unclaimed detections become new vehicles.
	for i, det := range detections {
		if used[i] {
			continue
		}
		v := &Vehicle{ID: t.nextID, Box: det}
		t.nextID++
		t.vehicles[v.ID] = v
	}

	for _, id := range t.sortedIDs() {
		v := t.vehicles[id]
		if v.ViolationCandidate && v.ViolationRedFrames > t.cfg.ViolationFrames {
			violating = append(violating, id)
		}
	}
	return len(t.vehicles), violating
}

// Vehicles returns the live vehicles in ascending ID order, for overlay
// rendering.
func (t *Tracker) Vehicles() []Vehicle {
	out := make([]Vehicle, 0, len(t.vehicles))
	for _, id := range t.sortedIDs() {
		out = append(out, *t.vehicles[id])
	}
	return out
}

// Len returns the live vehicle count.
func (t *Tracker) Len() int { return len(t.vehicles) }

func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.vehicles))
	for id := range t.vehicles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// IoU returns the intersection-over-union of two axis-aligned rectangles.
// Degenerate rectangles yield zero.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	unionArea := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if unionArea <= 0 {
		return 0
	}
	return float64(interArea) / float64(unionArea)
}
