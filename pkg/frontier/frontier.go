package frontier

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// State is the lifecycle phase of a Frontier
type State int

const (
	Idle     State = iota // Before the first level, or after Finish
	Leveling              // Inside AdvanceLevel
	Draining              // Active URLs are being processed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Leveling:
		return "leveling"
	case Draining:
		return "draining"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stats is a point-in-time view of the set sizes
type Stats struct {
	Checked int
	Active  int
	Queued  int
	Levels  int
	State   State
}

// Frontier tracks crawl progress with three disjoint URL sets guarded by one mutex:
// checked (already processed), active (the level being processed) and queued (next level).
// Every accepted URL lives in exactly one of them.
type Frontier struct {
	mu      sync.Mutex
	checked map[string]struct{}
	active  map[string]struct{}
	queued  map[string]struct{}
	scope   *regexp.Regexp
	state   State
	levels  int
	started bool
	log     *logrus.Entry
}

// New creates an empty Frontier. A nil scope accepts every URL.
func New(scope *regexp.Regexp, log *logrus.Entry) *Frontier {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Frontier{
		checked: make(map[string]struct{}),
		active:  make(map[string]struct{}),
		queued:  make(map[string]struct{}),
		scope:   scope,
		state:   Idle,
		log:     log.WithField("component", "frontier"),
	}
}

// Seed places a start URL in the queue. Seeds bypass the scope check.
// It is only permitted while idle and before the first AdvanceLevel.
func (f *Frontier) Seed(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started || f.state != Idle {
		return fmt.Errorf("%w: cannot seed '%s' in state %s after %d level(s)",
			utils.ErrSeedAfterStart, url, f.state, f.levels)
	}
	f.queued[url] = struct{}{}
	return nil
}

// Accept reports whether url would be queued by RecordDiscovery:
// it is neither checked nor active and the scope pattern matches somewhere in it.
func (f *Frontier) Accept(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acceptLocked(url)
}

func (f *Frontier) acceptLocked(url string) bool {
	if _, seen := f.checked[url]; seen {
		return false
	}
	if _, seen := f.active[url]; seen {
		return false
	}
	if f.scope == nil {
		return true
	}
	return f.scope.MatchString(url)
}

// RecordDiscovery queues url if it passes Accept.
// Returns true only when url was not already queued.
func (f *Frontier) RecordDiscovery(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.acceptLocked(url) {
		return false
	}
	if _, dup := f.queued[url]; dup {
		return false
	}
	f.queued[url] = struct{}{}
	return true
}

// AdvanceLevel moves to the next level atomically:
// checked gains the old active set, the queue becomes active and the queue is emptied.
// It returns the new active URLs sorted. An empty result is a valid, no-op level.
func (f *Frontier) AdvanceLevel() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = Leveling
	for url := range f.active {
		f.checked[url] = struct{}{}
	}
	f.active = f.queued
	f.queued = make(map[string]struct{})
	f.levels++
	f.started = true
	f.state = Draining

	f.log.WithFields(logrus.Fields{
		"level":   f.levels,
		"active":  len(f.active),
		"checked": len(f.checked),
	}).Debug("Advanced frontier level")

	return sortedKeys(f.active)
}

// Finish folds the last active set into checked and returns to Idle.
// Queued URLs stay queued and are never visited. Finish is not a level transition.
func (f *Frontier) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for url := range f.active {
		f.checked[url] = struct{}{}
	}
	f.active = make(map[string]struct{})
	f.state = Idle
}

// State returns the current lifecycle phase.
func (f *Frontier) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Levels returns how many times AdvanceLevel has run.
func (f *Frontier) Levels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels
}

// Checked returns a sorted copy of the checked set.
func (f *Frontier) Checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.checked)
}

// Active returns a sorted copy of the active set.
func (f *Frontier) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.active)
}

// Queued returns a sorted copy of the queued set.
func (f *Frontier) Queued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.queued)
}

// Stats returns the current set sizes.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Checked: len(f.checked),
		Active:  len(f.active),
		Queued:  len(f.queued),
		Levels:  f.levels,
		State:   f.state,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
