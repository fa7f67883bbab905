package main

import (
	"math/rand/v2"

	"github.com/zsiec/marquee/internal/media"
)

// patternFunc renders frame n of an animated test pattern.
type patternFunc func(g media.Geometry, n int) *media.Frame

var patterns = map[string]patternFunc{
	"bars":     bars,
	"gradient": gradient,
	"checker":  checker,
	"noise":    noise,
}

// barColors are the SMPTE-style colour bars.
var barColors = [][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

// bars scrolls colour bars one pixel left per frame.
func bars(g media.Geometry, n int) *media.Frame {
	f := media.NewFrame(g)
	barWidth := max(g.Width/len(barColors), 1)
	for x := 0; x < g.Width; x++ {
		c := barColors[((x+n)/barWidth)%len(barColors)]
		for y := 0; y < g.Height; y++ {
			f.Set(x, y, c[0], c[1], c[2])
		}
	}
	return f
}

// gradient cycles a horizontal hue ramp.
func gradient(g media.Geometry, n int) *media.Frame {
	f := media.NewFrame(g)
	for x := 0; x < g.Width; x++ {
		v := uint8((x*255/max(g.Width-1, 1) + n*4) % 256)
		for y := 0; y < g.Height; y++ {
			f.Set(x, y, v, 255-v, uint8(y*255/max(g.Height-1, 1)))
		}
	}
	return f
}

// checker inverts a 4x4 checkerboard every frame.
func checker(g media.Geometry, n int) *media.Frame {
	f := media.NewFrame(g)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if (x/4+y/4+n)%2 == 0 {
				f.Set(x, y, 255, 255, 255)
			}
		}
	}
	return f
}

// noise fills the frame with random pixels seeded by the frame number.
func noise(g media.Geometry, n int) *media.Frame {
	f := media.NewFrame(g)
	rng := rand.New(rand.NewPCG(uint64(n), 0x6d61727175656565))
	for i := range f.Pix {
		f.Pix[i] = uint8(rng.Uint32())
	}
	return f
}
