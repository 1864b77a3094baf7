package ingest

import "sync"

// State is the ingest phase of a chapter.
type State string

const (
	StateIdle          State = "idle"
	StateValidating    State = "validating"
	StateMaterializing State = "materializing"
	StateSwapping      State = "swapping"
)

// chapterLocks tracks which chapters are being ingested. Holding one
// chapter never blocks another.
type chapterLocks struct {
	mu     sync.Mutex
	active map[int64]State
}

func newChapterLocks() *chapterLocks {
	return &chapterLocks{active: make(map[int64]State)}
}

// acquire marks a chapter as validating, or reports false when it is busy.
func (l *chapterLocks) acquire(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[id]; busy {
		return false
	}
	l.active[id] = StateValidating
	return true
}

func (l *chapterLocks) set(id int64, state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[id] = state
}

func (l *chapterLocks) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}

func (l *chapterLocks) state(id int64) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.active[id]; ok {
		return s
	}
	return StateIdle
}
