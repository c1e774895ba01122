package main

import (
	"fmt"
	"image"
	"strings"
)

const maxPreviewWidth = 48

// halfBlocks renders img with "▀" cells: the foreground colour is the upper
// pixel and the background the lower one, so each text row covers two pixel rows.
func halfBlocks(img image.Image, width int) string {
	b := img.Bounds()
	if width <= 0 || b.Dx() == 0 || b.Dy() == 0 {
		return ""
	}
	if width > b.Dx() {
		width = b.Dx()
	}
	height := b.Dy() * width / b.Dx()
	if height%2 == 1 {
		height++
	}
	if height < 2 {
		height = 2
	}

	sample := func(x, y int) (uint8, uint8, uint8) {
		sx := b.Min.X + x*b.Dx()/width
		sy := b.Min.Y + y*b.Dy()/height
		r, g, bl, _ := img.At(sx, sy).RGBA()
		return uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8)
	}

	var out strings.Builder
	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x++ {
			tr, tg, tb := sample(x, y)
			br, bg, bb := sample(x, y+1)
			fmt.Fprintf(&out, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀", tr, tg, tb, br, bg, bb)
		}
		out.WriteString("\x1b[0m\n")
	}
	return out.String()
}
