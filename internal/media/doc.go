// Package media turns frame numbers into JPEG images on disk.
//
// Frames are decoded only when a page is rendered: the Materializer opens
// one Decoder per call, seeks to each frame on the page, writes it as a
// uniquely named JPEG, and re-checks frames flagged as repeats by comparing
// hue/saturation histograms with the previous image.
package media
