// Package fsx holds the crash-safe file primitives shared by the state file
// and the output video: same-directory temp names, atomic replace and
// best-effort directory sync.
package fsx

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix starts the name of every temporary file this package hands out.
// Scanners skip names with this prefix.
const TempPrefix = ".fm-"

// TempPath returns a unique path in the directory of target for writing a
// replacement of target. The extension of target is kept so that tools
// which infer the format from the name (ffmpeg) still work.
func TempPath(target string) string {
	dir, base := filepath.Split(target)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, TempPrefix+stem+"-"+uuid.NewString()[:8]+ext)
}

// IsTemp reports whether name was produced by TempPath.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

// Replace atomically renames src over dst. The data of src is synced before
// the rename and the directory after it, so a crash leaves dst holding
// either the old or the complete new content. src may have been written by
// another process (ffmpeg).
func Replace(src, dst string) error {
	if err := SyncFile(src); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	_ = SyncDir(filepath.Dir(dst))
	return nil
}

// WriteFileAtomic writes data to dir/name through a synced temp file and a
// rename, replacing any existing file. A crash leaves either the old or the
// new content, never a mix.
func WriteFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, TempPrefix+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return Replace(tmpName, filepath.Join(dir, name))
}

// RemoveIfExists deletes path, treating an already missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// SyncFile flushes the data of an existing file to stable storage. The file
// is opened read-only, which is enough for fsync on every supported OS.
func SyncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SyncDir fsyncs a directory. Skipped on Windows, where directory handles
// cannot be synced.
func SyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
