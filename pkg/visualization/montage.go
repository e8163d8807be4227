package visualization

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"

	"medaugment/internal/models"
)

const captionHeight = 16

// labelPalette colors label classes; class 0 is black and classes beyond the
// palette wrap around.
var labelPalette = []color.RGBA{
	{0, 0, 0, 255},
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
}

// RenderMontage draws an augmentation set as a grid with one column per
// variant: images on the top row, labels on the bottom row, each scaled to
// cell x cell pixels under a caption with the variant name.
func RenderMontage(set *models.AugmentationSet, cell int) (*image.RGBA, error) {
	if cell <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %d", cell)
	}

	width := cell * models.NumVariants
	height := captionHeight + 2*cell
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	for _, v := range models.Variants() {
		img, lbl := set.Pair(v)
		if img.IsEmpty() || lbl.IsEmpty() {
			return nil, fmt.Errorf("variant %s is missing", v)
		}
		x := int(v) * cell

		drawCaption(dst, x+2, captionHeight-3, v.String())

		top := image.Rect(x, captionHeight, x+cell, captionHeight+cell)
		draw.BiLinear.Scale(dst, top, grayImage(img), bounds(img), draw.Src, nil)

		bottom := top.Add(image.Pt(0, cell))
		draw.NearestNeighbor.Scale(dst, bottom, labelImage(lbl), bounds(lbl), draw.Src, nil)
	}
	return dst, nil
}

func bounds(p *models.Plane) image.Rectangle {
	rows, cols := p.Dims()
	return image.Rect(0, 0, cols, rows)
}

// grayImage windows the first channel of p to its own value range.
func grayImage(p *models.Plane) *image.Gray {
	rows, cols := p.Dims()
	values := p.Values()
	lo, hi := floats.Min(values), floats.Max(values)

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	if hi > lo {
		for i, v := range values {
			img.Pix[i] = uint8((v - lo) / (hi - lo) * 255)
		}
	}
	return img
}

func labelImage(p *models.Plane) *image.RGBA {
	rows, cols := p.Dims()
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for i, v := range p.Values() {
		class := int(v)
		if class < 0 {
			class = 0
		}
		c := labelPalette[0]
		if class > 0 {
			c = labelPalette[1+(class-1)%(len(labelPalette)-1)]
		}
		img.SetRGBA(i%cols, i/cols, c)
	}
	return img
}

func drawCaption(dst draw.Image, x, baseline int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}
