package viewer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/smazurov/posenode/internal/pose"
)

var (
	boneColor     = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	keypointColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	textColor     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textBgColor   = color.RGBA{R: 0, G: 0, B: 0, A: 160}
)

const (
	keypointRadius = 3
	lineHeight     = 15
	textMargin     = 6
)

// renderFrame decodes a captured JPEG, draws detections and overlay text, and
// re-encodes it.
func renderFrame(data []byte, detections []pose.Pose, overlay []string, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	img := annotate(src, detections, overlay)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// annotate returns a copy of src with skeletons, keypoints and text drawn on it.
func annotate(src image.Image, detections []pose.Pose, overlay []string) *image.RGBA {
	b := src.Bounds()
	img := image.NewRGBA(b)
	draw.Draw(img, b, src, b.Min, draw.Src)

	bones := pose.Skeleton()
	for _, p := range detections {
		for _, bone := range bones {
			from, ok1 := p.Keypoint(bone.From)
			to, ok2 := p.Keypoint(bone.To)
			if ok1 && ok2 {
				drawLine(img, int(from.X), int(from.Y), int(to.X), int(to.Y), boneColor)
			}
		}
		for _, kp := range p.Keypoints {
			x, y := int(kp.X), int(kp.Y)
			r := image.Rect(x-keypointRadius, y-keypointRadius, x+keypointRadius+1, y+keypointRadius+1)
			draw.Draw(img, r.Intersect(b), image.NewUniform(keypointColor), image.Point{}, draw.Src)
		}
	}

	drawText(img, overlay)
	return img
}

func drawText(img *image.RGBA, lines []string) {
	if len(lines) == 0 {
		return
	}
	face := basicfont.Face7x13
	b := img.Bounds()

	width := 0
	d := &font.Drawer{Face: face}
	for _, line := range lines {
		if w := d.MeasureString(line).Ceil(); w > width {
			width = w
		}
	}
	bg := image.Rect(b.Min.X, b.Min.Y, b.Min.X+width+2*textMargin, b.Min.Y+len(lines)*lineHeight+textMargin)
	draw.Draw(img, bg.Intersect(b), image.NewUniform(textBgColor), image.Point{}, draw.Over)

	d.Dst = img
	d.Src = image.NewUniform(textColor)
	for i, line := range lines {
		d.Dot = fixed.P(b.Min.X+textMargin, b.Min.Y+textMargin+face.Ascent+i*lineHeight)
		d.DrawString(line)
	}
}

// drawLine draws a one-pixel line with Bresenham's algorithm, clipped to the image.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	b := img.Bounds()

	for {
		if (image.Point{X: x0, Y: y0}).In(b) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// placeholderJPEG is shown until the first frame is rendered.
func placeholderJPEG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 32, G: 32, B: 32, A: 255}), image.Point{}, draw.Src)
	drawText(img, []string{"Waiting for frames..."})

	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75})
	return buf.Bytes()
}
