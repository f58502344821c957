// Package ffmpeg builds and executes the ffmpeg commands used to assemble the
// output video: encoding a run of still images into a segment, joining two
// files with stream copy, and muxing the source audio into the finished
// video.
//
// Argument builders are pure and return the argument slice without the
// binary name so that tests can compare them directly. [Runner] executes a
// command, capturing stderr for [Classify], which maps known ffmpeg failure
// messages to a [Category]. [RetryState] tracks consecutive failed attempts
// for the daemon's retry budget.
package ffmpeg
