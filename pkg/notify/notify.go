// Package notify keeps the short-lived notices shown to a user while a session
// connects, runs and ends.
//
// At most one visible notice exists per (type, title) pair unless a caller
// explicitly allows duplicates. Hiding a notice frees its key at once; the
// notice itself lingers in a hiding state for a short grace interval so a
// renderer can animate it out, then it is removed for good.
package notify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deepgram/persona-relay/pkg/clock"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/google/uuid"
)

type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Warning Type = "warning"
	Info    Type = "info"
	Loading Type = "loading"
)

// DefaultGrace is how long a hidden notice stays around before removal.
const DefaultGrace = 300 * time.Millisecond

// DefaultTitle returns the title used when Options.Title is empty.
func DefaultTitle(t Type) string {
	switch t {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case Warning:
		return "Warning"
	case Loading:
		return "Loading"
	default:
		return "Info"
	}
}

// DefaultDuration returns the auto-dismiss interval for t. Loading notices
// return zero: they stay until the operation they describe hides them.
func DefaultDuration(t Type) time.Duration {
	switch t {
	case Success:
		return 4 * time.Second
	case Error:
		return 6 * time.Second
	case Warning:
		return 5 * time.Second
	case Loading:
		return 0
	default:
		return 4 * time.Second
	}
}

func (t Type) priority() int {
	switch t {
	case Error:
		return 4
	case Warning:
		return 3
	case Loading:
		return 2
	case Success:
		return 1
	default:
		return 0
	}
}

type Notification struct {
	ID          string
	Type        Type
	Title       string
	Message     string
	Description string
	Duration    time.Duration
	Persistent  bool
	CreatedAt   time.Time
	Hiding      bool
}

// Options tune a single Show call. A zero Duration selects the type default.
type Options struct {
	Title           string
	Description     string
	Duration        time.Duration
	Persistent      bool
	AllowDuplicates bool
}

type EventKind int

const (
	EventShown EventKind = iota
	EventHiding
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventShown:
		return "shown"
	case EventHiding:
		return "hiding"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind         EventKind
	Notification Notification
}

type key struct {
	typ   Type
	title string
}

type entry struct {
	n       Notification
	seq     uint64
	expiry  clock.Timer
	removal clock.Timer
}

// Queue is safe for concurrent use. Subscribers are called after the queue's
// lock is released, one event at a time and in the order events happened.
// While one goroutine is delivering, events raised elsewhere (or by a
// subscriber) are queued behind it and delivered by that goroutine.
type Queue struct {
	mu      sync.Mutex
	clock   clock.Clock
	grace   time.Duration
	newID   func() string
	seq     uint64
	entries map[string]*entry
	keys    map[key]string

	subMu       sync.Mutex
	subSeq      int
	subs        map[int]func(Event)
	pending     []Event
	dispatching bool
}

type Option func(*Queue)

func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

func WithGrace(d time.Duration) Option {
	return func(q *Queue) { q.grace = d }
}

func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		clock:   clock.Real(),
		grace:   DefaultGrace,
		newID:   func() string { return "notice-" + uuid.NewString() },
		entries: make(map[string]*entry),
		keys:    make(map[key]string),
		subs:    make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Show displays a notice and returns its id. It returns ok=false without
// creating anything when a visible notice with the same type and title
// exists and duplicates were not allowed.
func (q *Queue) Show(message string, t Type, opts Options) (string, bool) {
	title := opts.Title
	if title == "" {
		title = DefaultTitle(t)
	}
	duration := opts.Duration
	if duration == 0 {
		duration = DefaultDuration(t)
	}
	k := key{typ: t, title: title}

	q.mu.Lock()
	if _, exists := q.keys[k]; exists && !opts.AllowDuplicates {
		q.mu.Unlock()
		logger.Debug(logger.CLIENT, "Preventing duplicate notice: %s-%s", t, title)
		return "", false
	}

	n := Notification{
		ID:          q.newID(),
		Type:        t,
		Title:       title,
		Message:     message,
		Description: opts.Description,
		Duration:    duration,
		Persistent:  opts.Persistent,
		CreatedAt:   q.clock.Now(),
	}
	q.seq++
	e := &entry{n: n, seq: q.seq}
	q.entries[n.ID] = e
	q.keys[k] = n.ID

	if !n.Persistent && n.Duration > 0 {
		id := n.ID
		e.expiry = q.clock.AfterFunc(n.Duration, func() { q.Hide(id) })
	}
	q.enqueueLocked(Event{Kind: EventShown, Notification: n})
	q.mu.Unlock()

	q.dispatch()
	return n.ID, true
}

func (q *Queue) Success(message string, opts Options) (string, bool) {
	return q.Show(message, Success, opts)
}

func (q *Queue) Error(message string, opts Options) (string, bool) {
	return q.Show(message, Error, opts)
}

func (q *Queue) Warning(message string, opts Options) (string, bool) {
	return q.Show(message, Warning, opts)
}

func (q *Queue) Info(message string, opts Options) (string, bool) {
	return q.Show(message, Info, opts)
}

// Loading always shows a persistent notice.
func (q *Queue) Loading(message string, opts Options) (string, bool) {
	opts.Persistent = true
	return q.Show(message, Loading, opts)
}

// Hide starts dismissing id. Unknown ids and notices already hiding are ignored.
func (q *Queue) Hide(id string) {
	q.mu.Lock()
	q.hideLocked(id)
	q.mu.Unlock()

	q.dispatch()
}

// HideAll dismisses every visible notice and frees every dedup key.
func (q *Queue) HideAll() {
	q.mu.Lock()
	for _, id := range q.orderedIDsLocked() {
		q.hideLocked(id)
	}
	q.keys = make(map[key]string)
	q.mu.Unlock()

	q.dispatch()
}

// HideByType dismisses visible notices of type t. An empty title matches any title.
func (q *Queue) HideByType(t Type, title string) {
	q.mu.Lock()
	for _, id := range q.orderedIDsLocked() {
		n := q.entries[id].n
		if n.Type == t && (title == "" || n.Title == title) {
			q.hideLocked(id)
		}
	}
	q.mu.Unlock()

	q.dispatch()
}

// HasActive reports whether a visible notice of type t exists. An empty title
// matches any title.
func (q *Queue) HasActive(t Type, title string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.n.Hiding || e.n.Type != t {
			continue
		}
		if title == "" || e.n.Title == title {
			return true
		}
	}
	return false
}

// Active returns the visible notices, most urgent first and oldest first
// within a type.
func (q *Queue) Active() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Notification, 0, len(q.entries))
	for _, id := range q.orderedIDsLocked() {
		if n := q.entries[id].n; !n.Hiding {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Type.priority() > out[j].Type.priority()
	})
	return out
}

// Len counts notices that have not been removed yet, hiding ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Subscribe registers fn for every later event and returns a function that
// removes it.
func (q *Queue) Subscribe(fn func(Event)) func() {
	q.subMu.Lock()
	q.subSeq++
	id := q.subSeq
	q.subs[id] = fn
	q.subMu.Unlock()

	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

func (q *Queue) hideLocked(id string) {
	e, ok := q.entries[id]
	if !ok || e.n.Hiding {
		return
	}

	e.n.Hiding = true
	if e.expiry != nil {
		e.expiry.Stop()
	}

	k := key{typ: e.n.Type, title: e.n.Title}
	if q.keys[k] == id {
		delete(q.keys, k)
		// a duplicate that is still visible keeps owning the key
		for otherID, other := range q.entries {
			if !other.n.Hiding && other.n.Type == k.typ && other.n.Title == k.title {
				q.keys[k] = otherID
				break
			}
		}
	}

	e.removal = q.clock.AfterFunc(q.grace, func() { q.remove(id) })
	q.enqueueLocked(Event{Kind: EventHiding, Notification: e.n})
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if ok {
		delete(q.entries, id)
		q.enqueueLocked(Event{Kind: EventRemoved, Notification: e.n})
	}
	q.mu.Unlock()

	q.dispatch()
}

func (q *Queue) orderedIDsLocked() []string {
	ids := make([]string, 0, len(q.entries))
	for id := range q.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return q.entries[ids[i]].seq < q.entries[ids[j]].seq
	})
	return ids
}

func (q *Queue) enqueueLocked(ev Event) {
	q.subMu.Lock()
	q.pending = append(q.pending, ev)
	q.subMu.Unlock()
}

func (q *Queue) dispatch() {
	q.subMu.Lock()
	if q.dispatching {
		q.subMu.Unlock()
		return
	}
	q.dispatching = true

	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending = q.pending[1:]
		subs := q.subscribersLocked()
		q.subMu.Unlock()

		for _, fn := range subs {
			fn(ev)
		}
		q.subMu.Lock()
	}
	// cleared under the same lock as the empty check so no event is stranded
	q.dispatching = false
	q.subMu.Unlock()
}

func (q *Queue) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, q.subs[id])
	}
	return subs
}
