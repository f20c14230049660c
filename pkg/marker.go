package dupwalk

import (
	"os"
	"path/filepath"
	"time"
)

// folderRecord is the done signal shared by a folder's queue entry and its parent
type folderRecord struct {
	path string
	done *Future[struct{}]
}

func newFolderRecord(path string) *folderRecord {
	return &folderRecord{path: path, done: NewFuture[struct{}]()}
}

// OnDone implements Awaitable
func (r *folderRecord) OnDone(fn func()) { r.done.OnDone(fn) }

func (r *folderRecord) complete() { r.done.Complete(struct{}{}, nil) }

// IsDone reports whether the folder finished
func (r *folderRecord) IsDone() bool {
	select {
	case <-r.done.Done():
		return true
	default:
		return false
	}
}

// readMarker returns the mtime of dir's completion marker; ok is false when the folder was never completed
func readMarker(dir string) (time.Time, bool) {
	info, err := os.Stat(filepath.Join(dir, MarkerName))
	if err != nil || !info.Mode().IsRegular() {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// touchMarker creates dir's marker if needed and sets its mtime to now
func touchMarker(dir string, now time.Time) error {
	path := filepath.Join(dir, MarkerName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, now, now)
}
