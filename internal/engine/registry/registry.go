// Package registry owns the set of protocol pools hosted by the engine. It
// creates pools, looks them up by id, aggregates their totals and captures
// or restores their state as a single snapshot.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/internal/engine/metrics"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

// ErrDuplicatePool is returned when a pool id is already registered.
var ErrDuplicatePool = errors.New("pool id already registered")

// Option configures a Registry. Every option is also forwarded to the pools
// the registry creates or restores.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
			r.poolOpts = append(r.poolOpts, defi.WithLogger(l))
		}
	}
}

// WithJournal sets the event journal.
func WithJournal(j events.EventLogger) Option {
	return func(r *Registry) {
		if j != nil {
			r.journal = j
			r.poolOpts = append(r.poolOpts, defi.WithJournal(j))
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
			r.poolOpts = append(r.poolOpts, defi.WithMetrics(m))
		}
	}
}

// WithClock sets the time source.
func WithClock(c ledger.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
			r.poolOpts = append(r.poolOpts, defi.WithClock(c))
		}
	}
}

// WithIDGenerator sets the pool and proposal id source.
func WithIDGenerator(gen ledger.IDGenerator) Option {
	return func(r *Registry) {
		if gen != nil {
			r.poolOpts = append(r.poolOpts, defi.WithIDGenerator(gen))
		}
	}
}

// catalog keeps pools of one kind in creation order.
type catalog[P defi.Pool] struct {
	byID  map[string]P
	order []string
}

func newCatalog[P defi.Pool]() catalog[P] {
	return catalog[P]{byID: make(map[string]P)}
}

func (c *catalog[P]) add(p P) error {
	if _, ok := c.byID[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, p.ID())
	}
	c.byID[p.ID()] = p
	c.order = append(c.order, p.ID())
	return nil
}

func (c *catalog[P]) get(id string) (P, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *catalog[P]) list() []P {
	out := make([]P, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *catalog[P]) len() int { return len(c.order) }

// Registry holds every pool of the engine.
type Registry struct {
	log      *logger.Logger
	journal  events.EventLogger
	metrics  metrics.MetricsCollector
	clock    ledger.Clock
	poolOpts []defi.Option

	mu        sync.RWMutex
	staking   catalog[*defi.StakingPool]
	lending   catalog[*defi.LendingPool]
	liquidity catalog[*defi.LiquidityPool]
	daos      catalog[*defi.GovernanceDAO]
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		journal:   events.NoOpLogger{},
		metrics:   metrics.NewNoOpCollector(),
		clock:     ledger.SystemClock{},
		staking:   newCatalog[*defi.StakingPool](),
		lending:   newCatalog[*defi.LendingPool](),
		liquidity: newCatalog[*defi.LiquidityPool](),
		daos:      newCatalog[*defi.GovernanceDAO](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewDefault("registry")
	} else {
		r.log = r.log.Named("registry")
	}
	return r
}

func (r *Registry) registered(p defi.Pool, name string) {
	r.log.WithField("pool_id", p.ID()).
		WithField("kind", p.Kind().String()).
		WithField("name", name).
		Info("pool created")
	events.NewEvent(events.EventPoolCreated).
		Pool(p.ID(), p.Kind().String()).
		At(r.clock.Now()).
		Message(name).
		LogTo(r.journal)
	r.recordCounts()
}

// CreateStakingPool creates and registers a staking pool.
func (r *Registry) CreateStakingPool(cfg defi.StakingConfig) (*defi.StakingPool, error) {
	p, err := defi.NewStakingPool(cfg, r.poolOpts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = r.staking.add(p)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.registered(p, cfg.Name)
	return p, nil
}

// CreateLendingPool creates and registers a lending pool.
func (r *Registry) CreateLendingPool(cfg defi.LendingConfig) (*defi.LendingPool, error) {
	p, err := defi.NewLendingPool(cfg, r.poolOpts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = r.lending.add(p)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.registered(p, cfg.Asset)
	return p, nil
}

// CreateLiquidityPool creates and registers a liquidity pool.
func (r *Registry) CreateLiquidityPool(cfg defi.LiquidityConfig) (*defi.LiquidityPool, error) {
	p, err := defi.NewLiquidityPool(cfg, r.poolOpts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = r.liquidity.add(p)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.registered(p, cfg.TokenA+"/"+cfg.TokenB)
	return p, nil
}

// CreateDAO creates and registers a governance DAO.
func (r *Registry) CreateDAO(cfg defi.DAOConfig) (*defi.GovernanceDAO, error) {
	d, err := defi.NewGovernanceDAO(cfg, r.poolOpts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = r.daos.add(d)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.registered(d, cfg.Name)
	return d, nil
}

// StakingPool looks up a staking pool by id.
func (r *Registry) StakingPool(id string) (*defi.StakingPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staking.get(id)
}

// LendingPool looks up a lending pool by id.
func (r *Registry) LendingPool(id string) (*defi.LendingPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lending.get(id)
}

// LiquidityPool looks up a liquidity pool by id.
func (r *Registry) LiquidityPool(id string) (*defi.LiquidityPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liquidity.get(id)
}

// DAO looks up a DAO by id.
func (r *Registry) DAO(id string) (*defi.GovernanceDAO, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.daos.get(id)
}

// StakingPools returns all staking pools in creation order.
func (r *Registry) StakingPools() []*defi.StakingPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staking.list()
}

// LendingPools returns all lending pools in creation order.
func (r *Registry) LendingPools() []*defi.LendingPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lending.list()
}

// LiquidityPools returns all liquidity pools in creation order.
func (r *Registry) LiquidityPools() []*defi.LiquidityPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liquidity.list()
}

// DAOs returns all DAOs in creation order.
func (r *Registry) DAOs() []*defi.GovernanceDAO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.daos.list()
}

func (r *Registry) recordCounts() {
	r.mu.RLock()
	counts := map[defi.PoolKind]int{
		defi.PoolKindStaking:   r.staking.len(),
		defi.PoolKindLending:   r.lending.len(),
		defi.PoolKindLiquidity: r.liquidity.len(),
		defi.PoolKindDAO:       r.daos.len(),
	}
	r.mu.RUnlock()
	for kind, n := range counts {
		r.metrics.RecordPoolCount(kind.String(), n)
	}
}

// Seed creates the pools listed in the configuration.
func (r *Registry) Seed(pools config.Pools) error {
	for i, cfg := range pools.Staking {
		if _, err := r.CreateStakingPool(cfg); err != nil {
			return fmt.Errorf("seed staking pool %d: %w", i, err)
		}
	}
	for i, cfg := range pools.Lending {
		if _, err := r.CreateLendingPool(cfg); err != nil {
			return fmt.Errorf("seed lending pool %d: %w", i, err)
		}
	}
	for i, cfg := range pools.Liquidity {
		if _, err := r.CreateLiquidityPool(cfg); err != nil {
			return fmt.Errorf("seed liquidity pool %d: %w", i, err)
		}
	}
	for i, cfg := range pools.DAOs {
		if _, err := r.CreateDAO(cfg); err != nil {
			return fmt.Errorf("seed dao %d: %w", i, err)
		}
	}
	return nil
}
