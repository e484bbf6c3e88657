package vision

import (
	"image"
	"testing"
)

// buildOutput lays out predictions as a (4+C, N) tensor, the shape YOLOv8
// exports emit. Each prediction is (cx, cy, w, h, class scores...).
func buildOutput(preds [][]float32, numClasses int) ([]float32, int, int) {
	attrs := numClasses + 4
	n := len(preds)
	data := make([]float32, attrs*n)
	for p, row := range preds {
		for a := 0; a < attrs; a++ {
			data[a*n+p] = row[a]
		}
	}
	return data, attrs, n
}

// buildOutputTransposed lays out the same predictions as (N, 4+C).
func buildOutputTransposed(preds [][]float32, numClasses int) ([]float32, int, int) {
	attrs := numClasses + 4
	data := make([]float32, 0, attrs*len(preds))
	for _, row := range preds {
		data = append(data, row...)
	}
	return data, len(preds), attrs
}

// pred builds one prediction row with a single non-zero class score.
func pred(cx, cy, w, h float32, classID int, score float32, numClasses int) []float32 {
	row := make([]float32, 4+numClasses)
	row[0], row[1], row[2], row[3] = cx, cy, w, h
	row[4+classID] = score
	return row
}

const testClasses = 80

func TestPostprocessKeepsConfidentVehicles(t *testing.T) {
	preds := [][]float32{
		pred(320, 320, 64, 64, 2, 0.9, testClasses),  // car, confident
		pred(100, 100, 32, 32, 2, 0.2, testClasses),  // car, below threshold
		pred(500, 500, 64, 64, 0, 0.95, testClasses), // person: not a vehicle
	}
	data, dimA, dimB := buildOutput(preds, testClasses)

	boxes := Postprocess(data, dimA, dimB, testClasses, 640, 640, 0.45, 0.4)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1", len(boxes))
	}
	want := image.Rect(288, 288, 352, 352)
	if boxes[0] != want {
		t.Errorf("box = %v, want %v", boxes[0], want)
	}
}

func TestPostprocessDetectsOrientationFromShape(t *testing.T) {
	preds := [][]float32{
		pred(320, 320, 64, 64, 5, 0.8, testClasses), // bus
	}

	data, dimA, dimB := buildOutput(preds, testClasses)
	channelsFirst := Postprocess(data, dimA, dimB, testClasses, 640, 640, 0.45, 0.4)

	dataT, dimAT, dimBT := buildOutputTransposed(preds, testClasses)
	rowsFirst := Postprocess(dataT, dimAT, dimBT, testClasses, 640, 640, 0.45, 0.4)

	if len(channelsFirst) != 1 || len(rowsFirst) != 1 {
		t.Fatalf("got %d and %d boxes, want 1 and 1", len(channelsFirst), len(rowsFirst))
	}
	if channelsFirst[0] != rowsFirst[0] {
		t.Errorf("orientations disagree: %v vs %v", channelsFirst[0], rowsFirst[0])
	}
}

func TestPostprocessUnprojectsThroughStretchFactors(t *testing.T) {
	// a centred box in model space maps through cols/640 and rows/640
	preds := [][]float32{pred(320, 320, 320, 320, 7, 0.9, testClasses)} // truck
	data, dimA, dimB := buildOutput(preds, testClasses)

	boxes := Postprocess(data, dimA, dimB, testClasses, 1280, 480, 0.45, 0.4)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1", len(boxes))
	}
	want := image.Rect(320, 120, 960, 360)
	if boxes[0] != want {
		t.Errorf("box = %v, want %v", boxes[0], want)
	}
}

func TestPostprocessSuppressesOverlaps(t *testing.T) {
	preds := [][]float32{
		pred(320, 320, 100, 100, 2, 0.9, testClasses),
		pred(322, 322, 100, 100, 2, 0.8, testClasses), // near duplicate
		pred(100, 100, 50, 50, 3, 0.7, testClasses),   // separate motorcycle
	}
	data, dimA, dimB := buildOutput(preds, testClasses)

	boxes := Postprocess(data, dimA, dimB, testClasses, 640, 640, 0.45, 0.4)
	if len(boxes) != 2 {
		t.Errorf("got %d boxes, want 2 after suppression", len(boxes))
	}
}

func TestNMSEmptyInput(t *testing.T) {
	if got := NMS(nil, nil, 0.4); got != nil {
		t.Errorf("NMS(nil) = %v, want nil", got)
	}
}

func TestNMSKeepsHighestScore(t *testing.T) {
	boxes := []image.Rectangle{
		image.Rect(0, 0, 100, 100),
		image.Rect(5, 5, 105, 105),
		image.Rect(300, 300, 400, 400),
	}
	scores := []float32{0.6, 0.9, 0.5}

	keep := NMS(boxes, scores, 0.4)
	if len(keep) != 2 {
		t.Fatalf("kept %d boxes, want 2", len(keep))
	}
	if keep[0] != 1 {
		t.Errorf("first kept = %d, want the highest-scoring index 1", keep[0])
	}
	if keep[1] != 2 {
		t.Errorf("second kept = %d, want the disjoint index 2", keep[1])
	}
}

func TestPostprocessRejectsMalformedShape(t *testing.T) {
	data := make([]float32, 10)
	if got := Postprocess(data, 5, 2, testClasses, 640, 640, 0.45, 0.4); got != nil {
		t.Errorf("malformed shape produced %v, want nil", got)
	}
}
