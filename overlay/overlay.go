// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package overlay draws the tracked features and the anomaly count on top of
// a visualization.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/maruel/go-depthflow/pipeline"
)

// Style controls how the overlay is drawn.
type Style struct {
	Radius    float64
	LineWidth float64
	Scale     float64 // Factor between the frame and the visualization.
	Feature   color.Color
	Text      color.Color
	Depths    bool // Print the distance next to each feature.
}

// DefaultStyle returns green circles and white text.
func DefaultStyle() Style {
	return Style{
		Radius:    3,
		LineWidth: 1,
		Scale:     1,
		Feature:   color.NRGBA{0, 0xFF, 0, 0xFF},
		Text:      color.White,
	}
}

// Draw returns a copy of img with the features circled and label printed in
// the top left corner.
func Draw(img image.Image, features []pipeline.Feature, label string, s Style) *image.RGBA {
	dc := gg.NewContextForImage(img)
	scale := s.Scale
	if scale <= 0 {
		scale = 1
	}
	dc.SetColor(s.Feature)
	dc.SetLineWidth(s.LineWidth)
	for _, f := range features {
		// Features are on pixel centers.
		x, y := (f.Point.X+0.5)*scale, (f.Point.Y+0.5)*scale
		dc.DrawCircle(x, y, s.Radius)
		dc.Stroke()
		if s.Depths && f.Depth != 0 {
			dc.DrawString(f.Depth.String(), x+s.Radius+1, y)
		}
	}
	if label != "" {
		dc.SetColor(s.Text)
		dc.DrawStringAnchored(label, 2, 2, 0, 1)
	}
	return dc.Image().(*image.RGBA)
}

// Label returns the text describing res.
func Label(res *pipeline.Result) string {
	if !res.Temporal.WarmedUp {
		return ""
	}
	return fmt.Sprintf("anomalies %d", res.Anomalies)
}
