package banner

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an id does not name a live banner.
var ErrNotFound = errors.New("banner not found")

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Clock   Clock         // defaults to SystemClock
	IdleTTL time.Duration // <= 0 disables Sweep
	Logger  *slog.Logger
}

type entry struct {
	banner   *Banner
	openedAt time.Time
	lastSeen time.Time
	// watchers counts attached subscriptions. A watched banner is on an
	// open page and is never idle.
	watchers int
}

// Listing pairs a banner id with a snapshot of it.
type Listing struct {
	ID       string
	Snapshot Snapshot
}

// Registry hosts the live banners of the process, keyed by UUID. It plays
// the part of the page: it creates banners, forwards input changes to them
// and tears them down when they are removed.
type Registry struct {
	clock   Clock
	idleTTL time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	banners map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		clock:   cfg.Clock,
		idleTTL: cfg.IdleTTL,
		log:     cfg.Logger,
		banners: make(map[string]*entry),
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Open creates a banner, activates it with in and returns its id.
func (r *Registry) Open(in Input) (string, Snapshot) {
	id := uuid.NewString()
	b := New(WithClock(r.clock), WithLogger(r.log.With("banner_id", id)))
	b.Activate(in)

	now := r.clock.Now()
	r.mu.Lock()
	r.banners[id] = &entry{banner: b, openedAt: now, lastSeen: now}
	r.mu.Unlock()

	r.log.Info("banner opened", "banner_id", id, "name", in.ResolvedName())
	return id, b.Snapshot()
}

// lookup returns the banner for id and marks it as recently used.
func (r *Registry) lookup(id string) (*Banner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.banners[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = r.clock.Now()
	return e.banner, nil
}

// live rejects a snapshot taken after a concurrent Close or Sweep tore the
// banner down, so a removed banner always reads as not found.
func live(s Snapshot) (Snapshot, error) {
	if s.State == StateTornDown {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

// Get returns the current snapshot of banner id.
func (r *Registry) Get(id string) (Snapshot, error) {
	b, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return live(b.Snapshot())
}

// Change forwards a new input to banner id, restarting its cycle.
func (r *Registry) Change(id string, in Input) (Snapshot, error) {
	b, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	b.OnInputChanged(in)
	return live(b.Snapshot())
}

// Subscribe attaches fn to banner id. See Banner.Subscribe. While the
// subscription is attached the banner is exempt from Sweep; its idle time
// starts again when the returned function detaches it.
func (r *Registry) Subscribe(id string, fn func(Snapshot)) (func(), error) {
	r.mu.Lock()
	e, ok := r.banners[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	e.watchers++
	e.lastSeen = r.clock.Now()
	r.mu.Unlock()

	unsubscribe := e.banner.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			r.mu.Lock()
			e.watchers--
			e.lastSeen = r.clock.Now()
			r.mu.Unlock()
		})
	}, nil
}

// List returns every live banner, oldest first. Listing does not count as
// use for the idle sweep.
func (r *Registry) List() []Listing {
	type item struct {
		id string
		e  entry
	}
	r.mu.Lock()
	items := make([]item, 0, len(r.banners))
	for id, e := range r.banners {
		items = append(items, item{id: id, e: *e})
	}
	r.mu.Unlock()

	slices.SortFunc(items, func(a, b item) int {
		if c := a.e.openedAt.Compare(b.e.openedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	out := make([]Listing, len(items))
	for i, it := range items {
		out[i] = Listing{ID: it.id, Snapshot: it.e.banner.Snapshot()}
	}
	return out
}

// Close removes banner id and tears it down.
func (r *Registry) Close(id string) (Snapshot, error) {
	r.mu.Lock()
	e, ok := r.banners[id]
	delete(r.banners, id)
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	e.banner.Teardown()
	r.log.Info("banner closed", "banner_id", id)
	return e.banner.Snapshot(), nil
}

// Sweep tears down banners that have not been used for longer than the
// idle TTL and returns how many were removed. Banners with an attached
// subscription are skipped.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Banner
	for id, e := range r.banners {
		if e.watchers == 0 && e.lastSeen.Before(cutoff) {
			expired = append(expired, e.banner)
			delete(r.banners, id)
		}
	}
	r.mu.Unlock()

	for _, b := range expired {
		b.Teardown()
	}
	if len(expired) > 0 {
		r.log.Info("idle banners swept", "count", len(expired))
	}
	return len(expired)
}

// Shutdown tears down every banner.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	all := r.banners
	r.banners = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.banner.Teardown()
	}
	return len(all)
}

// Len returns the number of live banners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.banners)
}
