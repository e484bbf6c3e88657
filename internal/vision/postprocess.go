package vision

import (
	"image"
	"sort"

	"github.com/banshee-data/intersection/internal/track"
)

// InputSize is the square side of the detector's input tensor.
const InputSize = 640

// VehicleClassIDs is the COCO class subset treated as vehicles: car,
// motorcycle, bus, truck.
var VehicleClassIDs = map[int]bool{2: true, 3: true, 5: true, 7: true}

// Postprocess converts a raw YOLOv8 output tensor into vehicle boxes in image
// coordinates. data is the flattened tensor with trailing dims (dimA, dimB);
// the prediction orientation is detected from the shape rather than assumed,
// since exports emit either (4+C, N) or (N, 4+C). Rows failing the confidence
// threshold or falling outside the vehicle class subset are discarded, boxes
// are un-projected through the reciprocal stretch factors, and non-maximum
// suppression is applied last.
func Postprocess(data []float32, dimA, dimB, numClasses, frameW, frameH int, confThreshold, nmsThreshold float32) []image.Rectangle {
	attrs := numClasses + 4
	var preds int
	var at func(pred, attr int) float32
	switch {
	case dimA == attrs:
		// (4+C, N): attributes are the slow axis
		preds = dimB
		at = func(p, a int) float32 { return data[a*dimB+p] }
	case dimB == attrs:
		// (N, 4+C): predictions are the slow axis
		preds = dimA
		at = func(p, a int) float32 { return data[p*dimB+a] }
	default:
		return nil
	}
	if len(data) < preds*attrs {
		return nil
	}

	xFactor := float32(frameW) / InputSize
	yFactor := float32(frameH) / InputSize

	var boxes []image.Rectangle
	var scores []float32
	for p := 0; p < preds; p++ {
		classID := -1
		best := float32(0)
		for c := 0; c < numClasses; c++ {
			if s := at(p, 4+c); s > best {
				best = s
				classID = c
			}
		}
		if best <= confThreshold || !VehicleClassIDs[classID] {
			continue
		}

		cx, cy := at(p, 0), at(p, 1)
		w, h := at(p, 2), at(p, 3)
		left := int((cx - 0.5*w) * xFactor)
		top := int((cy - 0.5*h) * yFactor)
		boxes = append(boxes, image.Rect(left, top, left+int(w*xFactor), top+int(h*yFactor)))
		scores = append(scores, best)
	}

	keep := NMS(boxes, scores, float64(nmsThreshold))
	out := make([]image.Rectangle, 0, len(keep))
	for _, idx := range keep {
		out = append(out, boxes[idx])
	}
	return out
}

// NMS performs greedy non-maximum suppression and returns the indices of the
// surviving boxes in descending score order. Zero inputs yield zero outputs.
func NMS(boxes []image.Rectangle, scores []float32, iouThreshold float64) []int {
	if len(boxes) == 0 {
		return nil
	}

	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	suppressed := make([]bool, len(boxes))
	var keep []int
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if track.IoU(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
