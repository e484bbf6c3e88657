package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/intersection/internal/track"
)

var (
	trackColor     = color.RGBA{G: 255}
	violationColor = color.RGBA{R: 255}
)

// DrawVehicles renders tracker overlays onto frame: green boxes for normal
// tracks, red for violation candidates, each labelled with its ID.
func DrawVehicles(frame *gocv.Mat, vehicles []track.Vehicle) {
	for _, v := range vehicles {
		c := trackColor
		if v.ViolationCandidate {
			c = violationColor
		}
		gocv.Rectangle(frame, v.Box, c, 2)
		label := fmt.Sprintf("ID: %d", v.ID)
		origin := image.Pt(v.Box.Min.X, v.Box.Min.Y-10)
		gocv.PutText(frame, label, origin, gocv.FontHersheySimplex, 0.6, c, 2)
	}
}
