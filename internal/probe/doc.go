// Package probe provides ffprobe-based media inspection. It reads the
// metadata the frame images lack (frame rate, frame count, variable frame
// timing, audio presence) from the source video once, and counts the frames
// of the growing output so that a resumed merge can be checked against it.
//
// Every call goes through a [Prober] so the ffprobe binary can be swapped in
// tests; the JSON parsers are exported for testing without a real ffprobe.
package probe
