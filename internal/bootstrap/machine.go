// Package bootstrap owns the creation of the single map instance and its
// drawn-items collection.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/mapkit"
)

// ErrBootstrapFailed is returned by Wait once the attempt budget is exhausted.
var ErrBootstrapFailed = errors.New("map bootstrap failed")

// Options configures a Machine.
type Options struct {
	Target        string
	View          mapkit.View
	MaxAttempts   int
	Interval      time.Duration // delay after an unmet guard
	ErrorInterval time.Duration // delay after a construction error
	LoadDelay     time.Duration // delay before the deferred bulk load
}

func (o *Options) defaults() {
	if o.Target == "" {
		o.Target = "map"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Interval <= 0 {
		o.Interval = 300 * time.Millisecond
	}
	if o.ErrorInterval <= 0 {
		o.ErrorInterval = 500 * time.Millisecond
	}
	if o.LoadDelay < 0 {
		o.LoadDelay = 0
	}
}

// Context carries the shared handles handed to every consumer.
type Context struct {
	Toolkit    mapkit.Toolkit
	Map        mapkit.Map
	DrawnItems mapkit.FeatureGroup
}

// MapReady is the narrow readiness notification.
type MapReady struct {
	Map        mapkit.Map
	DrawnItems mapkit.FeatureGroup
}

// WebGISReady is the broad readiness notification.
type WebGISReady struct {
	Map        mapkit.Map
	DrawnItems mapkit.FeatureGroup
	Ready      bool
}

// LoadFunc is run once, LoadDelay after the machine becomes ready.
type LoadFunc func(ctx context.Context, app *Context)

// Machine drives the map through its bootstrap states. Start is idempotent
// and safe for concurrent use; at most one map and one drawn-items
// collection are ever created or adopted per Machine.
type Machine struct {
	toolkit mapkit.Toolkit
	app     *Context
	ready   chan struct{}
	done    chan struct{}
	err     error

	mapReadySubs []func(MapReady)
	webgisSubs   []func(WebGISReady)
	loaders      []LoadFunc
	loadCtx      context.Context

	opts      Options
	state     State
	attempts  int
	mu        sync.Mutex
	startOnce sync.Once
	published bool
	loadFired bool
}

// New returns an uninitialized Machine.
func New(toolkit mapkit.Toolkit, opts Options) *Machine {
	opts.defaults()
	return &Machine{
		toolkit: toolkit,
		opts:    opts,
		state:   Uninitialized,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the attempt loop. Calls after the first are no-ops.
func (m *Machine) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.loadCtx = ctx
		m.transition(WaitingDependencies)
		m.mu.Unlock()

		log.Debug().
			Str("target", m.opts.Target).
			Int("max_attempts", m.opts.MaxAttempts).
			Msg("Map bootstrap started")

		go m.run(ctx)
	})
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many attempts have been made.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// IsReady reports whether the map exists and may be used.
func (m *Machine) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once when the machine reaches READY.
func (m *Machine) Ready() <-chan struct{} {
	return m.ready
}

// Context returns the shared handles once ready.
func (m *Machine) Context() (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.app, m.app != nil
}

// Wait blocks until the machine is ready, has failed or ctx is done.
func (m *Machine) Wait(ctx context.Context) (*Context, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return nil, m.err
	}
	return m.app, nil
}

// OnMapReady registers a callback for the narrow readiness notification.
// Registering after publication calls fn immediately.
func (m *Machine) OnMapReady(fn func(MapReady)) {
	m.mu.Lock()
	if !m.published {
		m.mapReadySubs = append(m.mapReadySubs, fn)
		m.mu.Unlock()
		return
	}
	ev := MapReady{Map: m.app.Map, DrawnItems: m.app.DrawnItems}
	m.mu.Unlock()
	fn(ev)
}

// OnWebGISReady registers a callback for the broad readiness notification.
// Registering after publication calls fn immediately.
func (m *Machine) OnWebGISReady(fn func(WebGISReady)) {
	m.mu.Lock()
	if !m.published {
		m.webgisSubs = append(m.webgisSubs, fn)
		m.mu.Unlock()
		return
	}
	ev := WebGISReady{Map: m.app.Map, DrawnItems: m.app.DrawnItems, Ready: true}
	m.mu.Unlock()
	fn(ev)
}

// OnLoad registers the deferred bulk load. Loaders registered after the load
// fired run immediately in their own goroutine.
func (m *Machine) OnLoad(fn LoadFunc) {
	m.mu.Lock()
	if !m.loadFired {
		m.loaders = append(m.loaders, fn)
		m.mu.Unlock()
		return
	}
	ctx, app := m.loadCtx, m.app
	m.mu.Unlock()
	go fn(ctx, app)
}

func (m *Machine) run(ctx context.Context) {
	for {
		delay, finished := m.attempt()
		if finished {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.mu.Lock()
			m.fail(ctx.Err())
			m.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// attempt runs one guarded creation attempt. It returns the delay before the
// next attempt, or finished when a terminal state was reached.
func (m *Machine) attempt() (time.Duration, bool) {
	m.mu.Lock()

	if m.state.Terminal() {
		m.mu.Unlock()
		return 0, true
	}

	m.attempts++
	attempt := m.attempts

	retry := func(reason string, delay time.Duration) (time.Duration, bool) {
		if m.state != WaitingDependencies {
			m.transition(WaitingDependencies)
		}
		if attempt >= m.opts.MaxAttempts {
			m.fail(fmt.Errorf("%w after %d attempts: %s", ErrBootstrapFailed, attempt, reason))
			m.mu.Unlock()
			return 0, true
		}
		log.Debug().
			Int("attempt", attempt).
			Str("reason", reason).
			Dur("retry_in", delay).
			Msg("Map not ready, retrying")
		m.mu.Unlock()
		return delay, false
	}

	if !m.toolkit.Available() {
		return retry("mapping library unavailable", m.opts.Interval)
	}

	m.transition(WaitingDOM)
	if !m.toolkit.TargetExists(m.opts.Target) {
		return retry("target element missing", m.opts.Interval)
	}

	m.transition(Creating)
	app, err := m.create()
	if err != nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("Map construction failed")
		return retry(err.Error(), m.opts.ErrorInterval)
	}

	m.app = app
	m.transition(Ready)
	close(m.ready)
	close(m.done)
	m.mu.Unlock()

	log.Info().
		Str("target", m.opts.Target).
		Int("attempts", attempt).
		Msg("Map ready")

	m.publish()
	m.scheduleLoad()
	return 0, true
}

// create adopts an existing map and drawn-items collection where present.
func (m *Machine) create() (app *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("map construction panicked: %v", r)
		}
	}()

	mp, ok := m.toolkit.Existing(m.opts.Target)
	if ok {
		log.Debug().Str("target", m.opts.Target).Msg("Adopting existing map instance")
	} else {
		mp, err = m.toolkit.NewMap(m.opts.Target, m.opts.View)
		if err != nil {
			return nil, err
		}
	}

	group, ok := mp.Group(mapkit.DrawnItemsGroup)
	if !ok {
		group = mp.NewFeatureGroup()
		mp.AddGroup(mapkit.DrawnItemsGroup, group)
	}

	return &Context{Toolkit: m.toolkit, Map: mp, DrawnItems: group}, nil
}

func (m *Machine) publish() {
	m.mu.Lock()
	if m.published {
		m.mu.Unlock()
		return
	}
	m.published = true
	mapSubs, webSubs := m.mapReadySubs, m.webgisSubs
	m.mapReadySubs, m.webgisSubs = nil, nil
	app := m.app
	m.mu.Unlock()

	narrow := MapReady{Map: app.Map, DrawnItems: app.DrawnItems}
	for _, fn := range mapSubs {
		fn(narrow)
	}

	broad := WebGISReady{Map: app.Map, DrawnItems: app.DrawnItems, Ready: true}
	for _, fn := range webSubs {
		fn(broad)
	}
}

func (m *Machine) scheduleLoad() {
	time.AfterFunc(m.opts.LoadDelay, func() {
		m.mu.Lock()
		if m.loadFired {
			m.mu.Unlock()
			return
		}
		m.loadFired = true
		loaders, ctx, app := m.loaders, m.loadCtx, m.app
		m.loaders = nil
		m.mu.Unlock()

		for _, fn := range loaders {
			fn(ctx, app)
		}
	})
}

// transition must be called with mu held.
func (m *Machine) transition(to State) {
	if !CanTransition(m.state, to) {
		log.Error().
			Stringer("from", m.state).
			Stringer("to", to).
			Msg("Rejected bootstrap transition")
		return
	}
	log.Trace().Stringer("from", m.state).Stringer("to", to).Msg("Bootstrap transition")
	m.state = to
}

// fail must be called with mu held.
func (m *Machine) fail(err error) {
	if m.state.Terminal() {
		return
	}
	m.transition(Failed)
	m.err = err
	if !errors.Is(err, ErrBootstrapFailed) {
		m.err = fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	close(m.done)

	log.Error().Err(m.err).Int("attempts", m.attempts).Msg("Map bootstrap gave up")
}
