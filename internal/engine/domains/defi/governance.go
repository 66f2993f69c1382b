package defi

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/ledger"
	"github.com/R3E-Network/defi_engine/internal/engine/state"
)

// DAOConfig describes a governance DAO. Nil thresholds and a zero voting
// period select the package defaults.
type DAOConfig struct {
	Name              string           `json:"name" yaml:"name"`
	GovernanceToken   string           `json:"governance_token" yaml:"governance_token"`
	ProposalThreshold *decimal.Decimal `json:"proposal_threshold,omitempty" yaml:"proposal_threshold"`
	QuorumPercentage  *decimal.Decimal `json:"quorum_percentage,omitempty" yaml:"quorum_percentage"`
	VotingPeriod      time.Duration    `json:"voting_period" yaml:"voting_period"`
}

func (c DAOConfig) withDefaults() DAOConfig {
	if c.ProposalThreshold == nil {
		v := DefaultProposalThreshold
		c.ProposalThreshold = &v
	}
	if c.QuorumPercentage == nil {
		v := DefaultQuorumPercentage
		c.QuorumPercentage = &v
	}
	if c.VotingPeriod == 0 {
		c.VotingPeriod = DefaultVotingPeriod
	}
	return c
}

// Validate checks the configuration after applying defaults.
func (c DAOConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.GovernanceToken == "":
		return fmt.Errorf("%w: governance token is required", ErrInvalidConfig)
	case c.ProposalThreshold.IsNegative():
		return fmt.Errorf("%w: proposal threshold must not be negative", ErrInvalidConfig)
	case c.QuorumPercentage.IsNegative() || c.QuorumPercentage.GreaterThan(hundred):
		return fmt.Errorf("%w: quorum percentage must be in [0, 100]", ErrInvalidConfig)
	case c.VotingPeriod < 0:
		return fmt.Errorf("%w: voting period must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Proposal is a governance proposal. Voters is sorted.
type Proposal struct {
	ID           string               `json:"id"`
	Proposer     string               `json:"proposer"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	CreatedAt    time.Time            `json:"created_at"`
	EndTime      time.Time            `json:"end_time"`
	VotesFor     decimal.Decimal      `json:"votes_for"`
	VotesAgainst decimal.Decimal      `json:"votes_against"`
	Status       state.ProposalStatus `json:"status"`
	Voters       []string             `json:"voters"`
}

// TokenBalance is a holder's governance-token balance.
type TokenBalance struct {
	Holder  string          `json:"holder"`
	Balance decimal.Decimal `json:"balance"`
}

// DAOSnapshot is the persisted form of a DAO.
type DAOSnapshot struct {
	ID          string          `json:"id"`
	Config      DAOConfig       `json:"config"`
	CreatedAt   time.Time       `json:"created_at"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Holders     []TokenBalance  `json:"holders"`
	Proposals   []Proposal      `json:"proposals"`
}

type proposal struct {
	Proposal
	voters map[string]struct{}
}

func (p *proposal) view() Proposal {
	out := p.Proposal
	out.Voters = make([]string, 0, len(p.voters))
	for v := range p.voters {
		out.Voters = append(out.Voters, v)
	}
	sort.Strings(out.Voters)
	return out
}

// GovernanceDAO runs token-weighted votes on proposals.
type GovernanceDAO struct {
	id        string
	cfg       DAOConfig
	threshold decimal.Decimal
	quorum    decimal.Decimal
	createdAt time.Time
	obs       observer

	mu          sync.Mutex
	totalSupply decimal.Decimal
	holders     map[string]decimal.Decimal
	proposals   map[string]*proposal
	order       []string
}

// NewGovernanceDAO creates a DAO with no holders and no proposals.
func NewGovernanceDAO(cfg DAOConfig, opts ...Option) (*GovernanceDAO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("new_dao", "", err)
	}
	s := newSettings(opts)
	id := s.newID()
	return newDAO(id, cfg, s.clock.Now(), s), nil
}

func newDAO(id string, cfg DAOConfig, createdAt time.Time, s settings) *GovernanceDAO {
	cfg = cfg.withDefaults()
	return &GovernanceDAO{
		id:          id,
		cfg:         cfg,
		threshold:   *cfg.ProposalThreshold,
		quorum:      *cfg.QuorumPercentage,
		createdAt:   createdAt,
		obs:         newObserver(s, PoolKindDAO, id),
		totalSupply: decimal.Zero,
		holders:     make(map[string]decimal.Decimal),
		proposals:   make(map[string]*proposal),
	}
}

// RestoreGovernanceDAO rebuilds a DAO from a snapshot after checking that the
// total supply matches the holder balances and that every proposal is sound.
func RestoreGovernanceDAO(snap DAOSnapshot, opts ...Option) (*GovernanceDAO, error) {
	const op = "restore_dao"
	corrupt := func(format string, args ...any) error {
		return newError(op, snap.ID, fmt.Errorf("%w: "+format, append([]any{ErrCorruptSnapshot}, args...)...))
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, newError(op, snap.ID, err)
	}
	if snap.ID == "" {
		return nil, corrupt("missing pool id")
	}

	d := newDAO(snap.ID, snap.Config, snap.CreatedAt, newSettings(opts))

	sum := decimal.Zero
	for _, h := range snap.Holders {
		if h.Holder == "" || !ledger.Positive(h.Balance) {
			return nil, corrupt("bad holder %q", h.Holder)
		}
		if _, dup := d.holders[h.Holder]; dup {
			return nil, corrupt("duplicate holder %q", h.Holder)
		}
		d.holders[h.Holder] = h.Balance
		sum = sum.Add(h.Balance)
	}
	if !sum.Equal(snap.TotalSupply) {
		return nil, corrupt("total supply %s != sum of balances %s", snap.TotalSupply, sum)
	}
	d.totalSupply = sum

	for _, p := range snap.Proposals {
		if p.ID == "" || p.Status == state.StatusUnknown {
			return nil, corrupt("bad proposal %q", p.ID)
		}
		if p.VotesFor.IsNegative() || p.VotesAgainst.IsNegative() {
			return nil, corrupt("negative votes on proposal %q", p.ID)
		}
		if _, dup := d.proposals[p.ID]; dup {
			return nil, corrupt("duplicate proposal %q", p.ID)
		}
		rec := &proposal{Proposal: p, voters: make(map[string]struct{}, len(p.Voters))}
		rec.Voters = nil
		for _, v := range p.Voters {
			if _, dup := rec.voters[v]; dup {
				return nil, corrupt("proposal %q counts voter %q twice", p.ID, v)
			}
			rec.voters[v] = struct{}{}
		}
		d.proposals[p.ID] = rec
		d.order = append(d.order, p.ID)
	}
	return d, nil
}

func (d *GovernanceDAO) ID() string           { return d.id }
func (d *GovernanceDAO) Kind() PoolKind       { return PoolKindDAO }
func (d *GovernanceDAO) CreatedAt() time.Time { return d.createdAt }
func (d *GovernanceDAO) Config() DAOConfig    { return d.cfg }

func (d *GovernanceDAO) locked(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

// SetTokenBalance replaces a holder's balance and moves the total supply by
// the difference. A zero balance removes the holder.
func (d *GovernanceDAO) SetTokenBalance(user string, amount decimal.Decimal) error {
	start := time.Now()
	err := d.locked(func() error {
		if user == "" || amount.IsNegative() {
			return ErrInvalidAmount
		}
		d.totalSupply = d.totalSupply.Sub(d.holders[user]).Add(amount)
		if amount.IsZero() {
			delete(d.holders, user)
		} else {
			d.holders[user] = amount
		}
		return nil
	})
	return d.obs.record(outcome{op: "set_token_balance", actor: user, amount: amount, event: events.EventBalanceSet}, start, err)
}

// CreateProposal opens a proposal for voting until now + VotingPeriod.
func (d *GovernanceDAO) CreateProposal(proposer, title, description string) (Proposal, error) {
	start := time.Now()
	var created Proposal
	err := d.locked(func() error {
		if balance := d.holders[proposer]; balance.LessThan(d.threshold) {
			return fmt.Errorf("%w: holds %s, needs %s", ErrBelowProposalThreshold, balance, d.threshold)
		}
		now := d.obs.clock.Now()
		rec := &proposal{
			Proposal: Proposal{
				ID:           d.obs.newID(),
				Proposer:     proposer,
				Title:        title,
				Description:  description,
				CreatedAt:    now,
				EndTime:      now.Add(d.cfg.VotingPeriod),
				VotesFor:     decimal.Zero,
				VotesAgainst: decimal.Zero,
				Status:       state.StatusActive,
			},
			voters: make(map[string]struct{}),
		}
		d.proposals[rec.ID] = rec
		d.order = append(d.order, rec.ID)
		created = rec.view()
		return nil
	})
	err = d.obs.record(outcome{
		op: "create_proposal", actor: proposer, event: events.EventProposalCreated,
		status: created.Status,
		meta:   map[string]string{"proposal_id": created.ID, "title": title},
	}, start, err)
	if err != nil {
		return Proposal{}, err
	}
	return created, nil
}

// Vote casts the voter's whole current balance for or against a proposal.
// The weight is fixed when cast.
func (d *GovernanceDAO) Vote(proposalID, voter string, support bool) error {
	start := time.Now()
	weight := decimal.Zero
	err := d.locked(func() error {
		p, ok := d.proposals[proposalID]
		if !ok {
			return ErrProposalNotFound
		}
		if p.Status != state.StatusActive {
			return fmt.Errorf("%w: status %s", ErrProposalNotActive, p.Status)
		}
		if d.obs.clock.Now().After(p.EndTime) {
			return ErrVotingEnded
		}
		if _, voted := p.voters[voter]; voted {
			return ErrAlreadyVoted
		}
		weight = d.holders[voter]
		if !ledger.Positive(weight) {
			return ErrNoVotingPower
		}
		if support {
			p.VotesFor = p.VotesFor.Add(weight)
		} else {
			p.VotesAgainst = p.VotesAgainst.Add(weight)
		}
		p.voters[voter] = struct{}{}
		return nil
	})
	return d.obs.record(outcome{
		op: "vote", actor: voter, amount: weight, event: events.EventVoted,
		meta: map[string]string{"proposal_id": proposalID, "support": fmt.Sprint(support)},
	}, start, err)
}

// ExecuteProposal tallies a proposal once voting has ended. Turnout below the
// quorum rejects the proposal and returns ErrQuorumNotReached. Otherwise a
// strict majority for passes and executes it, and anything else rejects it.
func (d *GovernanceDAO) ExecuteProposal(proposalID string) (state.ProposalStatus, error) {
	start := time.Now()
	final := state.StatusUnknown
	err := d.locked(func() error {
		p, ok := d.proposals[proposalID]
		if !ok {
			return ErrProposalNotFound
		}
		if p.Status != state.StatusActive {
			return fmt.Errorf("%w: status %s", ErrProposalNotActive, p.Status)
		}
		if !d.obs.clock.Now().After(p.EndTime) {
			return ErrVotingNotEnded
		}

		turnout := p.VotesFor.Add(p.VotesAgainst)
		// Shift divides by 100 exactly; Div would round to 16 digits.
		required := d.totalSupply.Mul(d.quorum).Shift(-2)
		if turnout.LessThan(required) {
			status, err := state.Transition(p.Status, state.StatusRejected)
			if err != nil {
				return err
			}
			p.Status, final = status, status
			return fmt.Errorf("%w: turnout %s, required %s", ErrQuorumNotReached, turnout, required)
		}

		next := state.StatusRejected
		if p.VotesFor.GreaterThan(p.VotesAgainst) {
			next = state.StatusPassed
		}
		status, err := state.Transition(p.Status, next)
		if err != nil {
			return err
		}
		if status == state.StatusPassed {
			if status, err = state.Transition(status, state.StatusExecuted); err != nil {
				return err
			}
		}
		p.Status, final = status, status
		return nil
	})

	event := events.EventProposalExecuted
	if final == state.StatusRejected {
		event = events.EventProposalRejected
	}
	out := outcome{
		op: "execute_proposal", event: event, status: final,
		meta: map[string]string{"proposal_id": proposalID},
	}
	err = d.obs.record(out, start, err)
	if errors.Is(err, ErrQuorumNotReached) {
		out.decorate(events.NewEvent(events.EventProposalRejected).
			Pool(d.id, string(PoolKindDAO)).
			Operation(out.op).
			At(d.obs.clock.Now()).
			Message("quorum not reached")).
			LogTo(d.obs.journal)
	}
	return final, err
}

// GetProposal returns a proposal by id.
func (d *GovernanceDAO) GetProposal(proposalID string) (Proposal, error) {
	start := time.Now()
	var view Proposal
	err := d.locked(func() error {
		p, ok := d.proposals[proposalID]
		if !ok {
			return ErrProposalNotFound
		}
		view = p.view()
		return nil
	})
	return view, d.obs.record(outcome{op: "get_proposal"}, start, err)
}

// Proposals returns every proposal in creation order.
func (d *GovernanceDAO) Proposals() []Proposal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proposalsLocked()
}

func (d *GovernanceDAO) proposalsLocked() []Proposal {
	out := make([]Proposal, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.proposals[id].view())
	}
	return out
}

// Balance returns a holder's governance-token balance.
func (d *GovernanceDAO) Balance(user string) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holders[user]
}

// TotalSupply returns the sum of all holder balances.
func (d *GovernanceDAO) TotalSupply() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalSupply
}

// Snapshot captures the DAO state.
func (d *GovernanceDAO) Snapshot() DAOSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	holders := make([]TokenBalance, 0, len(d.holders))
	for h, b := range d.holders {
		holders = append(holders, TokenBalance{Holder: h, Balance: b})
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].Holder < holders[j].Holder })

	return DAOSnapshot{
		ID:          d.id,
		Config:      d.cfg,
		CreatedAt:   d.createdAt,
		TotalSupply: d.totalSupply,
		Holders:     holders,
		Proposals:   d.proposalsLocked(),
	}
}
