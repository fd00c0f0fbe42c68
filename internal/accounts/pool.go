package accounts

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Selection strategies.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least-used"
)

var (
	// ErrNoAvailableAccount means the pool is empty or no account is active.
	ErrNoAvailableAccount = errors.New("no available account")
	// ErrSharedMode means a write operation was attempted while the shared
	// accounts file is the authority over the pool.
	ErrSharedMode = errors.New("pool is in shared mode, account set is read-only")
	// ErrUnknownAccount means the referenced account id is not in the pool.
	ErrUnknownAccount = errors.New("unknown account")
)

// cooldownDelay is how long a rate-limited account rests before automatic
// recovery. Fixed by the upstream's observed limiter window, not configurable.
const cooldownDelay = 5 * time.Minute

// Selection is the result of picking an account for one request.
type Selection struct {
	Account Account // snapshot at selection time
	Tokens  *TokenManager
}

// Pool owns the account map and the token managers, and schedules accounts
// across concurrent requests. All state transitions go through the pool lock;
// token refresh happens outside it.
type Pool struct {
	mu         sync.RWMutex
	accounts   map[string]*Account
	managers   map[string]*TokenManager
	order      []string // insertion order, drives round-robin and tie-breaks
	cursor     int
	strategy   Strategy
	sharedMode bool
	lastID     string

	refreshCfg RefreshConfig
	rnd        *rand.Rand
	now        func() time.Time

	// cooldown is overridable in tests; production value is cooldownDelay.
	cooldown time.Duration
}

// NewPool creates an empty pool. sharedMode marks the account set as owned by
// the shared accounts file, rejecting local mutations.
func NewPool(strategy Strategy, refreshCfg RefreshConfig, sharedMode bool) *Pool {
	return &Pool{
		accounts:   make(map[string]*Account),
		managers:   make(map[string]*TokenManager),
		strategy:   strategy,
		sharedMode: sharedMode,
		refreshCfg: refreshCfg,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		cooldown:   cooldownDelay,
	}
}

// SharedMode reports whether the shared file owns the account set.
func (p *Pool) SharedMode() bool { return p.sharedMode }

// Strategy returns the current selection strategy.
func (p *Pool) Strategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// SetStrategy switches the selection policy. The round-robin cursor is kept:
// it is interpreted modulo the eligible set size on the next selection.
func (p *Pool) SetStrategy(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
}

// Add inserts a new account in active state. Rejected in shared mode.
func (p *Pool) Add(acc *Account) error {
	if p.sharedMode {
		return ErrSharedMode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(acc)
	return nil
}

// Remove drops an account and its token manager. Rejected in shared mode.
func (p *Pool) Remove(id string) error {
	if p.sharedMode {
		return ErrSharedMode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[id]; !ok {
		return ErrUnknownAccount
	}
	delete(p.accounts, id)
	delete(p.managers, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Pool) insertLocked(acc *Account) {
	if acc.Status == "" {
		acc.Status = StatusActive
	}
	if _, exists := p.accounts[acc.ID]; !exists {
		p.order = append(p.order, acc.ID)
	}
	p.accounts[acc.ID] = acc
	p.managers[acc.ID] = NewTokenManager(acc.ID, acc.Credentials, p.refreshCfg)
}

// Select picks one eligible account under the configured strategy and bumps
// its usage counters atomically with the choice.
func (p *Pool) Select() (Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if p.accounts[id].Selectable() {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return Selection{}, ErrNoAvailableAccount
	}

	var id string
	switch p.strategy {
	case StrategyRandom:
		id = eligible[p.rnd.Intn(len(eligible))]
	case StrategyLeastUsed:
		id = eligible[0]
		for _, cand := range eligible[1:] {
			if p.accounts[cand].RequestCount < p.accounts[id].RequestCount {
				id = cand
			}
		}
	default: // round-robin
		id = eligible[p.cursor%len(eligible)]
		p.cursor++
	}

	acc := p.accounts[id]
	acc.RequestCount++
	used := p.now().UTC()
	acc.LastUsedAt = &used
	p.lastID = id

	return Selection{Account: *acc, Tokens: p.managers[id]}, nil
}

// RecordError increments the account's error counter. Rate-limit errors put
// the account into cooldown with an automatic recovery timer.
func (p *Pool) RecordError(id string, isRateLimit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return
	}
	acc.ErrorCount++
	if isRateLimit && acc.Status == StatusActive {
		acc.Status = StatusCooldown
		slog.Warn("account rate limited, cooling down", "account", id, "delay", p.cooldown)
		time.AfterFunc(p.cooldown, func() { p.recoverIfStillCooling(id) })
	}
}

// recoverIfStillCooling flips a cooldown account back to active. Re-checks
// state under lock: a manual recovery or a later invalidation wins.
func (p *Pool) recoverIfStillCooling(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.accounts[id]; ok && acc.Status == StatusCooldown {
		acc.Status = StatusActive
		slog.Info("account cooldown expired", "account", id)
	}
}

// MarkInvalid transitions the account to invalid unconditionally.
func (p *Pool) MarkInvalid(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.accounts[id]; ok {
		acc.Status = StatusInvalid
		slog.Warn("account marked invalid", "account", id)
	}
}

// RecoverCooldown moves one cooldown account back to active.
func (p *Pool) RecoverCooldown(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return ErrUnknownAccount
	}
	if acc.Status == StatusCooldown {
		acc.Status = StatusActive
	}
	return nil
}

// RecoverAllCooldowns moves every cooldown account back to active and returns
// how many were recovered.
func (p *Pool) RecoverAllCooldowns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, acc := range p.accounts {
		if acc.Status == StatusCooldown {
			acc.Status = StatusActive
			n++
		}
	}
	return n
}

// SetDisabled toggles an account between active and disabled. Forbidden in
// shared mode, where the file is the authority.
func (p *Pool) SetDisabled(id string, disabled bool) error {
	if p.sharedMode {
		return ErrSharedMode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return ErrUnknownAccount
	}
	if disabled {
		if acc.Status == StatusActive {
			acc.Status = StatusDisabled
		}
	} else {
		if acc.Status == StatusDisabled {
			acc.Status = StatusActive
		}
	}
	return nil
}

// Reset clears counters and returns the account to active. Used by the admin
// surface; allowed in shared mode because it only touches runtime state.
func (p *Pool) Reset(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return ErrUnknownAccount
	}
	acc.RequestCount = 0
	acc.ErrorCount = 0
	acc.Status = StatusActive
	return nil
}

// List returns account snapshots in insertion order plus the id selected by
// the most recent Select call.
func (p *Pool) List() ([]Account, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Account, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.accounts[id])
	}
	return out, p.lastID
}

// ApplySnapshot atomically swaps in the account set parsed from the shared
// file. Accounts present in both generations keep their runtime counters, a
// cooldown status, and their token manager, which adopts the file's
// credentials; accounts absent from the new set are dropped together with
// their token managers.
func (p *Pool) ApplySnapshot(next []*Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts := make(map[string]*Account, len(next))
	managers := make(map[string]*TokenManager, len(next))
	order := make([]string, 0, len(next))

	for _, acc := range next {
		if prev, ok := p.accounts[acc.ID]; ok {
			acc.RequestCount = prev.RequestCount
			acc.ErrorCount = prev.ErrorCount
			acc.LastUsedAt = prev.LastUsedAt
			if prev.Status == StatusCooldown && acc.Status == StatusActive {
				acc.Status = StatusCooldown
			}
			if mgr, ok := p.managers[acc.ID]; ok {
				mgr.UpdateCredentials(acc.Credentials)
				managers[acc.ID] = mgr
			}
		}
		if managers[acc.ID] == nil {
			managers[acc.ID] = NewTokenManager(acc.ID, acc.Credentials, p.refreshCfg)
		}
		accounts[acc.ID] = acc
		order = append(order, acc.ID)
	}

	p.accounts = accounts
	p.managers = managers
	p.order = order
}

// Size returns total and selectable account counts.
func (p *Pool) Size() (total, available int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, acc := range p.accounts {
		total++
		if acc.Selectable() {
			available++
		}
	}
	return
}
