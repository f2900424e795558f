// Package banner implements the welcome banner: a greeting whose confetti
// overlay stays visible for a fixed period after every activation.
//
// A Banner owns a single pending hide timer. Re-activating cancels the
// pending hide before scheduling a new one, and Teardown cancels it for
// good, so a stale hide can never run after a newer activation or after
// the banner is gone.
package banner

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// DefaultName is shown when the input carries no name.
const DefaultName = "Teacher"

// VisibleFor is how long the overlay stays up after an activation.
const VisibleFor = 2500 * time.Millisecond

// Subtitle is the fixed second line of the banner.
const Subtitle = "Ready for a great day?"

// State is the lifecycle state of a Banner.
type State string

const (
	StateHidden   State = "hidden"
	StateVisible  State = "visible"
	StateTornDown State = "torn_down"
)

// Input is the only external input of a banner.
type Input struct {
	Name string `json:"name"`
}

// ResolvedName returns the name to greet, substituting DefaultName when empty.
func (in Input) ResolvedName() string {
	if in.Name == "" {
		return DefaultName
	}
	return in.Name
}

// Greeting is the first line of a banner for name, with the default name
// substituted when it is empty.
func Greeting(name string) string {
	return fmt.Sprintf("Welcome, %s!", Input{Name: name}.ResolvedName())
}

// Snapshot is an immutable view of a banner at one point in time.
type Snapshot struct {
	Name        string       `json:"name"`
	Greeting    string       `json:"greeting"`
	Subtitle    string       `json:"subtitle"`
	State       State        `json:"state"`
	Visible     bool         `json:"visible"`
	Decorations []Decoration `json:"decorations"`
	ActivatedAt time.Time    `json:"activated_at,omitzero"`
	HidesAt     time.Time    `json:"hides_at,omitzero"`
}

// Option configures a Banner.
type Option func(*Banner)

// WithClock sets the clock used to schedule the hide. Defaults to SystemClock.
func WithClock(c Clock) Option { return func(b *Banner) { b.clock = c } }

// WithSource sets the random source for decorations.
func WithSource(src Source) Option { return func(b *Banner) { b.src = src } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Banner) { b.log = l } }

// Banner is one on-screen welcome banner. It is safe for concurrent use.
type Banner struct {
	mu    sync.Mutex
	clock Clock
	src   Source
	log   *slog.Logger

	name        string
	visible     bool
	decorations []Decoration
	activatedAt time.Time
	tornDown    bool

	// pending is the outstanding hide, if any. gen identifies the
	// activation that scheduled it; hides carrying an older gen are dropped.
	pending Timer
	gen     uint64

	subs    map[int]func(Snapshot)
	nextSub int
}

// New returns a hidden banner. Call Activate to show it.
func New(opts ...Option) *Banner {
	b := &Banner{
		clock: SystemClock{},
		log:   slog.Default(),
		name:  DefaultName,
		subs:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.src == nil {
		b.src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	recordLive(1)
	return b
}

// Activate shows the overlay with a fresh decoration set and restarts the
// hide countdown. It does nothing once the banner has been torn down.
func (b *Banner) Activate(in Input) {
	b.activate(in, "activate")
}

// OnInputChanged is called by the host whenever the input changes. The
// previous name is not compared: every call restarts the full cycle.
func (b *Banner) OnInputChanged(in Input) {
	b.activate(in, "input_changed")
}

func (b *Banner) activate(in Input, trigger string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tornDown {
		b.log.Debug("banner: activation after teardown ignored", "name", in.ResolvedName())
		return
	}
	b.cancelPendingLocked()

	b.gen++
	gen := b.gen
	b.name = in.ResolvedName()
	b.visible = true
	b.decorations = GenerateDecorations(DecorationCount, b.src)
	b.activatedAt = b.clock.Now()
	b.pending = b.clock.AfterFunc(VisibleFor, func() { b.hide(gen) })

	recordActivation(trigger)
	b.log.Debug("banner: activated", "name", b.name, "trigger", trigger, "gen", gen)
	b.publishLocked()
}

// hide is the deferred action scheduled by activate.
func (b *Banner) hide(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tornDown || gen != b.gen {
		return
	}
	b.pending = nil
	if !b.visible {
		return
	}
	b.visible = false
	b.decorations = nil

	recordHide()
	b.log.Debug("banner: hidden", "name", b.name, "gen", gen)
	b.publishLocked()
}

// Teardown cancels any pending hide and makes the banner terminal. The
// visibility flag keeps whatever value it had. Further calls are no-ops.
func (b *Banner) Teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tornDown {
		return
	}
	b.cancelPendingLocked()
	b.gen++
	b.tornDown = true

	recordLive(-1)
	b.log.Debug("banner: torn down", "name", b.name)
	b.publishLocked()
	clear(b.subs)
}

func (b *Banner) cancelPendingLocked() {
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn is called once immediately with the current snapshot. It runs with the
// banner's lock held, so it must not block or call back into the banner.
// The returned function removes the subscription.
func (b *Banner) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn(b.snapshotLocked())
	if b.tornDown {
		return func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Banner) publishLocked() {
	if len(b.subs) == 0 {
		return
	}
	snap := b.snapshotLocked()
	for _, fn := range b.subs {
		fn(snap)
	}
}

// Snapshot returns the current state of the banner.
func (b *Banner) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Banner) snapshotLocked() Snapshot {
	s := Snapshot{
		Name:        b.name,
		Greeting:    Greeting(b.name),
		Subtitle:    Subtitle,
		State:       b.stateLocked(),
		Visible:     b.visible,
		ActivatedAt: b.activatedAt,
		Decorations: []Decoration{},
	}
	if b.visible {
		s.Decorations = slices.Clone(b.decorations)
		if !b.tornDown {
			s.HidesAt = b.activatedAt.Add(VisibleFor)
		}
	}
	return s
}

func (b *Banner) stateLocked() State {
	switch {
	case b.tornDown:
		return StateTornDown
	case b.visible:
		return StateVisible
	default:
		return StateHidden
	}
}

// Visible reports whether the decoration overlay is showing.
func (b *Banner) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// State returns the lifecycle state.
func (b *Banner) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Decorations returns a copy of the current decoration set.
func (b *Banner) Decorations() []Decoration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.decorations)
}
