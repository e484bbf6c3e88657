// Package vision holds the perception side of the intersection controller:
// camera frame sources, the YOLOv8 vehicle detector, tracker overlay
// rendering, and the single-slot detection worker.
package vision

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Default detector thresholds; both are reconfigurable at runtime.
const (
	DefaultConfidenceThreshold = 0.45
	DefaultNMSThreshold        = 0.40
)

// Detector runs single-shot vehicle detection on decoded frames through the
// OpenCV DNN module. The zero value is not usable; construct with
// NewDetector.
type Detector struct {
	mu sync.Mutex

	net        gocv.Net
	classNames []string

	confThreshold float32
	nmsThreshold  float32
}

// NewDetector loads the ONNX weights and the line-delimited class-name file.
// Either file missing or unreadable is a fatal initialization error; the
// system refuses to start without a working detector.
func NewDetector(modelPath, classNamesPath string) (*Detector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file %q: %w", modelPath, err)
	}

	names, err := loadClassNames(classNamesPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model from %q", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:           net,
		classNames:    names,
		confThreshold: DefaultConfidenceThreshold,
		nmsThreshold:  DefaultNMSThreshold,
	}, nil
}

func loadClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("class names file %q: %w", path, err)
	}
	defer f.Close()

	var names []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		if line := scan.Text(); line != "" {
			names = append(names, line)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("reading class names %q: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class names file %q is empty", path)
	}
	return names, nil
}

// SetThresholds updates the confidence and NMS thresholds. The update waits
// for any in-flight Detect, so a detect call always sees one consistent pair.
func (d *Detector) SetThresholds(confidence, nms float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confThreshold = confidence
	d.nmsThreshold = nms
}

// Thresholds returns the current confidence and NMS thresholds.
func (d *Detector) Thresholds() (confidence, nms float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confThreshold, d.nmsThreshold
}

// Detect returns the vehicle bounding boxes found in frame, in frame
// coordinates.
func (d *Detector) Detect(frame gocv.Mat) ([]image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil, nil
	}

	// 1/255 scale, non-uniform stretch to the square input, BGR→RGB swap.
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(InputSize, InputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dimA, dimB, err := outputDims(output)
	if err != nil {
		return nil, err
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading detector output: %w", err)
	}

	size := frame.Size()
	rows, cols := size[0], size[1]
	return Postprocess(data, dimA, dimB, len(d.classNames), cols, rows,
		d.confThreshold, d.nmsThreshold), nil
}

// outputDims extracts the trailing two dimensions of the output tensor,
// tolerating a leading batch axis.
func outputDims(m gocv.Mat) (int, int, error) {
	sizes := m.Size()
	switch len(sizes) {
	case 2:
		return sizes[0], sizes[1], nil
	case 3:
		if sizes[0] != 1 {
			return 0, 0, fmt.Errorf("unexpected batch size %d in detector output", sizes[0])
		}
		return sizes[1], sizes[2], nil
	}
	return 0, 0, fmt.Errorf("unexpected detector output rank %d", len(sizes))
}

// Close releases the underlying network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
