package check

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/backmassage/framemerge/internal/display"
)

// InsufficientSpaceError reports that a disk cannot hold the next append.
type InsufficientSpaceError struct {
	Path string
	Free uint64
	Need uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough space on %s: %s free, %s needed",
		e.Path, display.FormatBytes(int64(e.Free)), display.FormatBytes(int64(e.Need)))
}

// IsInsufficientSpace reports whether err is an InsufficientSpaceError.
func IsInsufficientSpace(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}

// FreeSpace returns the bytes available to unprivileged users on the file
// system holding path. A path that does not exist yet is resolved to its
// nearest existing parent.
func FreeSpace(path string) (uint64, error) {
	p, err := existingParent(path)
	if err != nil {
		return 0, err
	}
	u, err := disk.Usage(p)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", p, err)
	}
	return u.Free, nil
}

// SpaceFunc reports free bytes for a path. FreeSpace is the production
// implementation.
type SpaceFunc func(path string) (uint64, error)

// EnsureSpace returns an InsufficientSpaceError when the disk holding path
// has less than need bytes free.
func EnsureSpace(free SpaceFunc, path string, need int64) error {
	if need <= 0 {
		return nil
	}
	avail, err := free(path)
	if err != nil {
		return err
	}
	if avail < uint64(need) {
		return &InsufficientSpaceError{Path: path, Free: avail, Need: uint64(need)}
	}
	return nil
}

func existingParent(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		p = parent
	}
}
