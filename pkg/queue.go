package dupwalk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// pendingFolder is an immutable queue entry. Requeueing a folder builds a new one.
type pendingFolder struct {
	Path      string
	Staleness time.Time // marker mtime; zero when Checked is false
	Checked   bool      // false sorts ahead of every checked folder
	record    *folderRecord
	key       string
}

func newPendingFolder(path string, staleness time.Time, checked bool, record *folderRecord) *pendingFolder {
	pf := &pendingFolder{
		Path:      path,
		Staleness: staleness,
		Checked:   checked,
		record:    record,
	}
	pf.key = stalenessKey(path, staleness, checked)
	return pf
}

// stalenessKey orders never-checked folders first, then oldest marker first, then by path.
// Signed nanos are flipped into unsigned space so pre-1970 mtimes still sort correctly.
func stalenessKey(path string, staleness time.Time, checked bool) string {
	if !checked {
		return "0\x00" + path
	}
	ordered := uint64(staleness.UnixNano()) ^ (1 << 63)
	return fmt.Sprintf("1%020d\x00%s", ordered, path)
}

// folderQueue is the mutex-guarded priority queue of folders waiting to be listed
type folderQueue struct {
	mu      sync.Mutex
	list    *zcsl.ZeroCopySkiplist[pendingFolder, string, uint64]
	pending map[string]*pendingFolder
	seq     uint64
}

func newFolderQueue() *folderQueue {
	getKey := func(pf *pendingFolder) string { return pf.key }
	getSize := func(pf *pendingFolder) int { return len(pf.key) }

	return &folderQueue{
		list: zcsl.MakeZeroCopySkiplist[pendingFolder, string, uint64](
			16, getKey, getSize, strings.Compare,
		),
		pending: make(map[string]*pendingFolder),
	}
}

// Push adds pf unless its path is already waiting; the waiting entry is returned either way
func (q *folderQueue) Push(pf *pendingFolder) (*pendingFolder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.pending[pf.Path]; ok {
		return existing, false
	}
	q.seq++
	if !q.list.Insert(pf, q.seq) {
		return pf, false
	}
	q.pending[pf.Path] = pf
	return pf, true
}

// Pending returns the waiting entry for path, if any
func (q *folderQueue) Pending(path string) (*pendingFolder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pf, ok := q.pending[path]
	return pf, ok
}

// Pop removes and returns the stalest folder
func (q *folderQueue) Pop() (*pendingFolder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	first := q.list.First()
	if first == nil {
		return nil, false
	}
	pf := first.Item()
	q.list.Delete(pf.key)
	delete(q.pending, pf.Path)
	return pf, true
}

// Len returns the number of waiting folders
func (q *folderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Length()
}
