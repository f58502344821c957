// Package encodertest provides in-process stand-ins for ffmpeg and ffprobe.
//
// The fake "video" is a text file with one "frame <name>" line per frame, so
// tests can check exactly which frames reached the output and in which
// order without a real encoder.
package encodertest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/backmassage/framemerge/internal/ffmpeg"
)

// Runner interprets the argument lists built by package ffmpeg. Fail, when
// set, is consulted first and may return a failure result to inject.
type Runner struct {
	mu    sync.Mutex
	calls [][]string

	Fail func(args []string) *ffmpeg.ExecResult
}

// Calls returns the argument lists of every invocation so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func (r *Runner) Run(_ context.Context, args []string) ffmpeg.ExecResult {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()

	if r.Fail != nil {
		if res := r.Fail(args); res != nil {
			return *res
		}
	}
	if err := run(args); err != nil {
		return ffmpeg.ExecResult{Stderr: err.Error(), Err: err}
	}
	return ffmpeg.ExecResult{}
}

func run(args []string) error {
	out := args[len(args)-1]
	inputs := values(args, "-i")
	var body bytes.Buffer

	switch {
	case has(args, "-c:v"): // encode segment
		n, err := strconv.Atoi(value(args, "-frames:v"))
		if err != nil {
			return fmt.Errorf("bad -frames:v: %w", err)
		}
		names, err := segmentFrames(args, inputs[0], n)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintf(&body, "frame %s\n", name)
		}

	case len(inputs) == 2: // mux audio
		data, err := os.ReadFile(inputs[0])
		if err != nil {
			return err
		}
		body.Write(withoutAudio(data))
		fmt.Fprintf(&body, "audio %s\n", filepath.Base(inputs[1]))

	default: // join
		files, err := listFiles(inputs[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			body.Write(data)
		}
	}
	return os.WriteFile(out, body.Bytes(), 0o644)
}

// segmentFrames resolves the frame files a segment encode reads and checks
// that they exist, as ffmpeg would.
func segmentFrames(args []string, input string, n int) ([]string, error) {
	var paths []string
	if value(args, "-f") == "concat" {
		files, err := listFiles(input)
		if err != nil {
			return nil, err
		}
		// The last image is listed twice to carry its duration.
		if len(files) > n {
			files = files[:n]
		}
		paths = files
	} else {
		start, err := strconv.Atoi(value(args, "-start_number"))
		if err != nil {
			return nil, fmt.Errorf("bad -start_number: %w", err)
		}
		for i := 0; i < n; i++ {
			paths = append(paths, fmt.Sprintf(input, start+i))
		}
	}
	if len(paths) != n {
		return nil, fmt.Errorf("%d frames requested, %d available", n, len(paths))
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%s: No such file or directory", p)
		}
		names[i] = filepath.Base(p)
	}
	return names, nil
}

// listFiles parses the "file '...'" entries of an ffconcat list.
func listFiles(list string) ([]string, error) {
	data, err := os.ReadFile(list)
	if err != nil {
		return nil, err
	}
	var files []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "file ") {
			continue
		}
		p := strings.TrimPrefix(line, "file ")
		p = strings.TrimSuffix(strings.TrimPrefix(p, "'"), "'")
		files = append(files, strings.ReplaceAll(p, `'\''`, "'"))
	}
	return files, sc.Err()
}

func withoutAudio(data []byte) []byte {
	var out bytes.Buffer
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if !strings.HasPrefix(line, "audio ") {
			out.WriteString(line)
		}
	}
	return out.Bytes()
}

func has(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func value(args []string, flag string) string {
	if v := values(args, flag); len(v) > 0 {
		return v[0]
	}
	return ""
}

func values(args []string, flag string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			out = append(out, args[i+1])
		}
	}
	return out
}

// Counter counts "frame" lines in a fake video. Err, when set, is returned
// instead.
type Counter struct {
	Err error
}

func (c Counter) CountFrames(_ context.Context, path string) (int, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	lines, err := Frames(path)
	return len(lines), err
}

// Frames returns the frame names recorded in a fake video, nil when it does
// not exist.
func Frames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "frame "); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// HasAudio reports whether a fake video had audio muxed in.
func HasAudio(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "audio ") {
			return true
		}
	}
	return false
}
