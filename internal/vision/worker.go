package vision

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/intersection/internal/track"
)

// Job is one unit of detection work: a cloned frame with the approach's ROI
// and the light state stamped at dispatch time. The stamp, not the live light
// state, drives violation attribution, so a phase change between dispatch and
// completion cannot misattribute.
type Job struct {
	Approach int
	Frame    gocv.Mat
	ROI      image.Rectangle
	Red      bool
}

// Result is the worker's reply: the frame with overlays rendered, the live
// vehicle count, and the IDs currently qualifying as red-light violations.
// The receiver owns Frame and must close it.
type Result struct {
	Approach     int
	Frame        gocv.Mat
	Count        int
	ViolatingIDs []int
}

// VehicleDetector is the contract the worker needs from the detection model.
// *Detector satisfies it; tests substitute stubs.
type VehicleDetector interface {
	Detect(frame gocv.Mat) ([]image.Rectangle, error)
	SetThresholds(confidence, nms float32)
}

// Worker is the single detection goroutine. It exclusively owns the detector,
// the per-approach trackers, and the per-approach ID counters, so no locking
// is needed inside. Admission control lives with the dispatching scheduler:
// the mailbox holds at most one job and the scheduler refuses to dispatch
// while a job is in flight.
type Worker struct {
	detector VehicleDetector
	trackers [4]*track.Tracker

	jobs    chan Job
	results chan Result

	log func(message, level string)
}

// NewWorker creates a worker around the given detector. logf receives
// diagnostic messages (may be nil).
func NewWorker(detector VehicleDetector, logf func(message, level string)) *Worker {
	w := &Worker{
		detector: detector,
		jobs:     make(chan Job, 1),
		results:  make(chan Result, 4),
		log:      logf,
	}
	for i := range w.trackers {
		w.trackers[i] = track.NewTracker(track.DefaultConfig())
	}
	return w
}

// Submit places one job in the mailbox. The caller must gate submissions on
// its worker-busy flag; with that discipline the single-slot mailbox never
// blocks.
func (w *Worker) Submit(j Job) { w.jobs <- j }

// Results returns the channel on which processed frames come back, in FIFO
// order.
func (w *Worker) Results() <-chan Result { return w.results }

// MailboxDepth reports how many jobs are waiting in the mailbox. It can never
// exceed one: the channel holds a single slot and the scheduler gates on its
// busy flag.
func (w *Worker) MailboxDepth() int { return len(w.jobs) }

// SetThresholds forwards a runtime threshold update to the detector.
func (w *Worker) SetThresholds(confidence, nms float32) {
	if w.detector != nil {
		w.detector.SetThresholds(confidence, nms)
	}
}

// Run processes jobs until the context is cancelled. Pending mailbox jobs are
// discarded on shutdown and their frames released.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case job := <-w.jobs:
			w.process(job)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case job := <-w.jobs:
			job.Frame.Close()
		default:
			return
		}
	}
}

func (w *Worker) process(job Job) {
	frame := job.Frame

	// Restrict detection to the ROI when one is set; an empty ROI means the
	// whole frame. The ROI is clipped to the frame rectangle first.
	detectRegion := frame
	var offset image.Point
	regionIsView := false
	if !job.ROI.Empty() {
		frameRect := image.Rect(0, 0, frame.Cols(), frame.Rows())
		clipped := job.ROI.Intersect(frameRect)
		if !clipped.Empty() {
			detectRegion = frame.Region(clipped)
			offset = clipped.Min
			regionIsView = true
		}
	}

	var detections []image.Rectangle
	var err error
	if w.detector != nil {
		detections, err = w.detector.Detect(detectRegion)
	}
	if regionIsView {
		detectRegion.Close()
	}
	if err != nil {
		// A failed detect drops this frame's detections, not the pipeline:
		// the tracker still runs so disappearance counters advance.
		w.logf("vehicle detection failed: "+err.Error(), "ERROR")
		detections = nil
	}
	if offset != (image.Point{}) {
		for i := range detections {
			detections[i] = detections[i].Add(offset)
		}
	}

	tracker := w.trackers[job.Approach]
	count, violating := tracker.Update(detections, job.Red)
	DrawVehicles(&frame, tracker.Vehicles())

	w.results <- Result{
		Approach:     job.Approach,
		Frame:        frame,
		Count:        count,
		ViolatingIDs: violating,
	}
}

func (w *Worker) logf(message, level string) {
	if w.log != nil {
		w.log(message, level)
	}
}
