// Package planner decides which frames form the next batch to append to the
// output video and estimates the disk space an append needs.
//
// Planning is pure: it works on the settled frames a scan returned and the
// last merged index, and never touches the file system. A batch always
// continues exactly where the output ends and never spans a missing frame.
package planner
