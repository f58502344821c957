// Package naming defines the frame file naming convention shared by the
// scanner, the encoder and the reclaimer.
//
// Frame files are named from a printf-style pattern with one zero-padded
// decimal verb, e.g. "%06d.png" or "frame_%05d.jpg". Zero padding makes the
// lexicographic order of names equal to the numeric order of indices, and the
// same pattern string is understood by ffmpeg's image2 demuxer.
package naming
