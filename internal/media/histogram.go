package media

import (
	"image"
	"math"
)

// Histogram dimensions: 8-bit hue (0-179) by saturation (0-255).
const (
	HueBins = 180
	SatBins = 256
)

// DefaultHistogramThreshold is the chi-square distance above which two
// frames are considered different images.
const DefaultHistogramThreshold = 50

// Histogram is a hue/saturation histogram scaled so its largest bin is 1 and
// its smallest 0.
type Histogram [HueBins * SatBins]float64

// HSVHistogram computes img's normalized hue/saturation histogram.
func HSVHistogram(img image.Image) *Histogram {
	var h Histogram
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			hue, sat := hueSat(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			h[int(hue)*SatBins+int(sat)]++
		}
	}
	h.normalize()
	return &h
}

// hueSat converts an RGB pixel to 8-bit hue (0-179) and saturation (0-255).
func hueSat(r, g, b uint8) (uint8, uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	diff := v - mn
	if v == 0 || diff == 0 {
		return 0, 0
	}
	s := math.Round(255 * diff / v)

	var deg float64
	switch v {
	case rf:
		deg = 60 * (gf - bf) / diff
	case gf:
		deg = 120 + 60*(bf-rf)/diff
	default:
		deg = 240 + 60*(rf-gf)/diff
	}
	if deg < 0 {
		deg += 360
	}
	hue := math.Round(deg / 2)
	if hue >= HueBins {
		hue -= HueBins
	}
	return uint8(hue), uint8(s)
}

func (h *Histogram) normalize() {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range h {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		*h = Histogram{}
		return
	}
	scale := 1 / (hi - lo)
	for i := range h {
		h[i] = (h[i] - lo) * scale
	}
}

// ChiSquare returns sum((a-b)^2 / a) over the bins where a is non-zero.
// It is asymmetric: a is the reference histogram.
func ChiSquare(a, b *Histogram) float64 {
	var d float64
	for i := range a {
		if math.Abs(a[i]) > math.SmallestNonzeroFloat64 {
			diff := a[i] - b[i]
			d += diff * diff / a[i]
		}
	}
	return d
}
