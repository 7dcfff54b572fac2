package parking

import (
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"parking-manager/internal/fee"
	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

const shardCount = 64

// shard owns the open sessions of every plate hashing to it. Holding mu is
// what makes enter and exit for one plate mutually exclusive.
type shard struct {
	mu   sync.Mutex
	open map[string]Session
}

// Manager runs the enter/exit state machine on top of a Registry and a tariff
// Table.
//
// Lock order is shard, then spot, then history. No lock is held while
// calling back into user code.
type Manager struct {
	registry *Registry
	tariffs  *tariff.Table
	now      func() time.Time
	newID    func() string

	shards [shardCount]shard

	histMu  sync.RWMutex
	history []Session
	index   map[string]int
	// stranded holds restored open sessions whose spot could not be
	// reclaimed. They stay in the history and Verify reports them.
	stranded map[string]Session
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(newID func() string) ManagerOption {
	return func(m *Manager) { m.newID = newID }
}

func NewManager(registry *Registry, tariffs *tariff.Table, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		tariffs:  tariffs,
		now:      time.Now,
		newID:    uuid.NewString,
		index:    make(map[string]int),
		stranded: make(map[string]Session),
	}
	for i := range m.shards {
		m.shards[i].open = make(map[string]Session)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) shardFor(plate string) *shard {
	h := fnv.New32a()
	h.Write([]byte(plate))
	return &m.shards[h.Sum32()%shardCount]
}

type enterConfig struct {
	spotID      string
	anyCategory bool
}

type EnterOption func(*enterConfig)

// WithSpot asks for one specific spot instead of the first free one.
func WithSpot(id string) EnterOption {
	return func(c *enterConfig) { c.spotID = id }
}

// WithAnyCategory lets the vehicle fall back to a spot of another category
// when its own is full.
func WithAnyCategory() EnterOption {
	return func(c *enterConfig) { c.anyCategory = true }
}

// Enter admits a vehicle and opens its session. Nothing is created when the
// claim fails.
func (m *Manager) Enter(plate string, category vehicle.Category, opts ...EnterOption) (Session, error) {
	v, err := vehicle.NewVehicle(plate, category)
	if err != nil {
		return Session{}, err
	}
	var cfg enterConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	sh := m.shardFor(v.Plate)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if open, ok := sh.open[v.Plate]; ok {
		return Session{}, fmt.Errorf("%w: %s in spot %d", ErrAlreadyParked, v.Plate, open.SpotNumber)
	}

	id := m.newID()
	o := Occupant{SessionID: id, Plate: v.Plate}

	var spot Spot
	if cfg.spotID != "" {
		spot, err = m.registry.ClaimSpot(cfg.spotID, v.Category, o)
	} else {
		spot, err = m.registry.Claim(v.Category, cfg.anyCategory, o)
	}
	if err != nil {
		return Session{}, err
	}

	s := Session{
		ID:         id,
		SpotID:     spot.ID,
		SpotNumber: spot.Number,
		Plate:      v.Plate,
		Category:   v.Category,
		EntryTime:  m.now(),
	}
	sh.open[v.Plate] = s
	m.record(s)

	return s, nil
}

// Exit closes the plate's session at the current time.
func (m *Manager) Exit(plate string) (Receipt, error) {
	return m.ExitAt(plate, m.now())
}

// ExitAt closes the plate's session as of exit. A missing tariff or an exit
// before the entry leaves the session open.
//
// Once the fee is computed the session is committed as closed. If the spot
// cannot be released afterwards the receipt is still returned, together with
// an error wrapping ErrInconsistentState.
func (m *Manager) ExitAt(plate string, exit time.Time) (Receipt, error) {
	p, err := vehicle.NormalizePlate(plate)
	if err != nil {
		return Receipt{}, err
	}

	sh := m.shardFor(p)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.open[p]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotParked, p)
	}

	tr, err := m.tariffs.Lookup(s.Category)
	if err != nil {
		return Receipt{}, err
	}
	q, err := fee.Calculate(s.EntryTime, exit, tr)
	if err != nil {
		return Receipt{}, err
	}

	closed := s.close(exit, q)
	delete(sh.open, p)
	m.record(closed)

	rc := Receipt{Session: closed, Quote: q, Tariff: tr}
	if _, err := m.registry.release(s.SpotID, s.ID); err != nil {
		return rc, fmt.Errorf("%w: session %s closed but spot %s not released: %w",
			ErrInconsistentState, s.ID, s.SpotID, err)
	}
	return rc, nil
}

// record inserts or replaces a session in the history.
func (m *Manager) record(s Session) {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	if i, ok := m.index[s.ID]; ok {
		m.history[i] = s
		return
	}
	m.index[s.ID] = len(m.history)
	m.history = append(m.history, s)
}

// Lookup returns the open session for a plate.
func (m *Manager) Lookup(plate string) (Session, error) {
	p, err := vehicle.NormalizePlate(plate)
	if err != nil {
		return Session{}, err
	}

	sh := m.shardFor(p)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.open[p]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotParked, p)
	}
	return s, nil
}

// OpenSessions yields every open session. Each shard is copied under its own
// lock and yielded after unlocking, so the sequence is not one atomic
// snapshot. Ranging over it again starts a fresh pass.
func (m *Manager) OpenSessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		for i := range m.shards {
			sh := &m.shards[i]
			sh.mu.Lock()
			batch := make([]Session, 0, len(sh.open))
			for _, s := range sh.open {
				batch = append(batch, s)
			}
			sh.mu.Unlock()

			for _, s := range batch {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Sessions yields every session ever opened, oldest entry first.
func (m *Manager) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		m.histMu.RLock()
		all := slices.Clone(m.history)
		m.histMu.RUnlock()

		slices.SortStableFunc(all, func(a, b Session) int {
			return a.EntryTime.Compare(b.EntryTime)
		})
		for _, s := range all {
			if !yield(s) {
				return
			}
		}
	}
}

// Restore reinstalls sessions loaded at startup. Open sessions reclaim their
// recorded spot; closed ones only go to the history. An open session that
// cannot reclaim its spot is still recorded and kept as stranded.
func (m *Manager) Restore(sessions []Session) error {
	var errs []error
	for _, s := range sessions {
		if !s.Open() {
			m.record(s)
			continue
		}
		if err := m.restoreOpen(s); err != nil {
			errs = append(errs, fmt.Errorf("restore session %s: %w", s.ID, err))
			m.strand(s)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) restoreOpen(s Session) error {
	sh := m.shardFor(s.Plate)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.open[s.Plate]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyParked, s.Plate)
	}
	spot, err := m.registry.occupy(s.SpotID, Occupant{SessionID: s.ID, Plate: s.Plate})
	if err != nil {
		return err
	}
	s.SpotNumber = spot.Number
	sh.open[s.Plate] = s
	m.record(s)
	return nil
}

func (m *Manager) strand(s Session) {
	m.histMu.Lock()
	m.stranded[s.ID] = s
	m.histMu.Unlock()

	m.record(s)
}

// Stranded returns the restored open sessions that hold no spot.
func (m *Manager) Stranded() []Session {
	m.histMu.RLock()
	defer m.histMu.RUnlock()

	out := make([]Session, 0, len(m.stranded))
	for _, s := range m.stranded {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int {
		return a.EntryTime.Compare(b.EntryTime)
	})
	return out
}

// Verify cross-checks the registry against the open sessions and reports
// every mismatch. It changes nothing.
func (m *Manager) Verify() error {
	for i := range m.shards {
		m.shards[i].mu.Lock()
	}
	defer func() {
		for i := range m.shards {
			m.shards[i].mu.Unlock()
		}
	}()

	var errs []error
	held := make(map[string]Session)
	for i := range m.shards {
		for plate, s := range m.shards[i].open {
			if other, dup := held[s.SpotID]; dup {
				errs = append(errs, fmt.Errorf("%w: spot %s claimed by open sessions of %s and %s",
					ErrInconsistentState, s.SpotID, other.Plate, plate))
			}
			held[s.SpotID] = s
		}
	}

	for _, sp := range m.registry.List(SpotFilter{}) {
		s, open := held[sp.ID]
		switch {
		case sp.Status == StatusOccupied && !open:
			errs = append(errs, fmt.Errorf("%w: spot %s occupied by %s with no open session",
				ErrInconsistentState, sp.ID, sp.Occupant.Plate))
		case sp.Status != StatusOccupied && open:
			errs = append(errs, fmt.Errorf("%w: open session %s of %s points at %s spot %s",
				ErrInconsistentState, s.ID, s.Plate, sp.Status, sp.ID))
		case open && sp.Occupant.SessionID != s.ID:
			errs = append(errs, fmt.Errorf("%w: spot %s held by session %s, open session is %s",
				ErrInconsistentState, sp.ID, sp.Occupant.SessionID, s.ID))
		}
		delete(held, sp.ID)
	}
	for id, s := range held {
		errs = append(errs, fmt.Errorf("%w: open session %s of %s points at unknown spot %s",
			ErrInconsistentState, s.ID, s.Plate, id))
	}
	for _, s := range m.Stranded() {
		errs = append(errs, fmt.Errorf("%w: restored session %s of %s holds no spot (recorded spot %s)",
			ErrInconsistentState, s.ID, s.Plate, s.SpotID))
	}

	return errors.Join(errs...)
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) Spots(filter SpotFilter) []Spot {
	return m.registry.List(filter)
}

func (m *Manager) Stats() Stats {
	return m.registry.Stats()
}

// SetMaintenance toggles a spot in or out of maintenance. Occupied spots
// refuse.
func (m *Manager) SetMaintenance(spotID string, on bool) (Spot, error) {
	return m.registry.SetMaintenance(spotID, on)
}

func (m *Manager) Tariff(category vehicle.Category) (tariff.Tariff, error) {
	return m.tariffs.Lookup(category)
}

func (m *Manager) UpdateTariff(category vehicle.Category, patch tariff.Patch) (tariff.Tariff, error) {
	return m.tariffs.Update(category, patch)
}

func (m *Manager) Tariffs() []tariff.Tariff {
	return m.tariffs.List()
}
