// Package pipeline runs the merge daemon.
//
// A merge is opened by [Open], which creates or loads the persisted state
// and repairs what a killed run may have left behind. [Daemon.Run] then
// loops on one goroutine:
//
//	scan -> plan -> disk guard -> append -> save state -> delete frames -> wait
//
// A frame is deleted only after the batch holding it is in the output and
// the state recording that batch is on disk, so every frame is encoded
// exactly once across any sequence of interrupts and resumes.
//
// Files: discover.go (ScanFrames), reclaim.go (frame deletion), session.go
// (Open, reconcile), runner.go (Daemon), stats.go, errors.go.
package pipeline
