package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/types"
)

var (
	ErrNoProvider   = types.NewError(types.ReasonNoWallet, "no wallet provider available", nil)
	ErrNotConnected = types.NewError(types.ReasonNoWallet, "wallet not connected", nil)
	ErrBusy         = types.NewError(types.ReasonBusy, "another wallet operation is in progress", nil)

	// ErrSwitchRejected wraps a failed network switch request.
	ErrSwitchRejected = errors.New("network switch rejected")
)

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Connected bool
	Provider  string
	Address   common.Address
	ChainID   *big.Int
}

type connection struct {
	provider Provider
	sub      event.Subscription
	events   chan Event
	quit     chan struct{}
	once     sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.quit)
		c.sub.Unsubscribe()
	})
}

// Session tracks the connected wallet, its account and its current chain.
// Provider events are applied by a background loop for the lifetime of the
// connection.
type Session struct {
	logger   logger.Logger
	onChange func(Snapshot)
	busy     atomic.Bool

	mu      sync.Mutex
	conn    *connection
	address common.Address
	chainID *big.Int
}

func NewSession(log logger.Logger) *Session {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Session{logger: log}
}

// OnChange registers a callback run after every state change. It must be set
// before Connect.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Connect requests accounts from the preferred provider and starts tracking it.
// Any previous connection is dropped.
func (s *Session) Connect(ctx context.Context, providers ...Provider) (Snapshot, error) {
	p := Select(providers...)
	if p == nil {
		return Snapshot{}, ErrNoProvider
	}

	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		if IsUserRejection(err) {
			return Snapshot{}, types.NewError(types.ReasonUserRejected, "wallet connection rejected", err)
		}
		return Snapshot{}, types.NewError(types.ReasonNoWallet, "wallet connection failed", err)
	}
	if len(accounts) == 0 {
		return Snapshot{}, types.NewError(types.ReasonNoWallet, "wallet returned no accounts", nil)
	}

	chainID, err := p.ChainID(ctx)
	if err != nil {
		return Snapshot{}, types.NewError(types.ReasonNoWallet, "failed to read wallet network", err)
	}

	c := &connection{
		provider: p,
		events:   make(chan Event, 16),
		quit:     make(chan struct{}),
	}
	c.sub = p.SubscribeEvents(c.events)

	s.mu.Lock()
	prev := s.conn
	s.conn, s.address, s.chainID = c, accounts[0], chainID
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	go s.loop(c)

	s.logger.Info("wallet connected", map[string]any{
		"provider": p.Name(),
		"address":  snap.Address.Hex(),
		"chainId":  chainID.String(),
	})
	s.changed(snap)
	return snap, nil
}

// Disconnect drops the connection. It is safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	s.reset()
	s.mu.Unlock()

	if c == nil {
		return
	}
	c.close()
	s.logger.Info("wallet disconnected", map[string]any{"provider": c.provider.Name()})
	s.changed(Snapshot{})
}

// drop disconnects only if c is still the live connection.
func (s *Session) drop(c *connection) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.reset()
	s.mu.Unlock()

	c.close()
	s.logger.Info("wallet dropped", map[string]any{"provider": c.provider.Name()})
	s.changed(Snapshot{})
}

func (s *Session) reset() {
	s.conn = nil
	s.address = common.Address{}
	s.chainID = nil
}

func (s *Session) loop(c *connection) {
	for {
		select {
		case <-c.quit:
			return
		case err := <-c.sub.Err():
			if err != nil {
				s.logger.Warn("wallet subscription failed", map[string]any{"error": err})
			}
			s.drop(c)
			return
		case ev := <-c.events:
			s.apply(c, ev)
		}
	}
}

func (s *Session) apply(c *connection, ev Event) {
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			s.drop(c)
			return
		}
		s.mu.Lock()
		if s.conn != c {
			s.mu.Unlock()
			return
		}
		s.address = ev.Accounts[0]
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("wallet account changed", map[string]any{"address": snap.Address.Hex()})
		s.changed(snap)

	case ChainChanged:
		if ev.ChainID == nil {
			return
		}
		s.mu.Lock()
		if s.conn != c {
			s.mu.Unlock()
			return
		}
		s.chainID = new(big.Int).Set(ev.ChainID)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("wallet network changed", map[string]any{"chainId": snap.ChainID.String()})
		s.changed(snap)

	case Disconnected:
		s.drop(c)
	}
}

func (s *Session) changed(snap Snapshot) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	if s.conn == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Connected: true,
		Provider:  s.conn.provider.Name(),
		Address:   s.address,
	}
	if s.chainID != nil {
		snap.ChainID = new(big.Int).Set(s.chainID)
	}
	return snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Active returns the connected provider and account.
func (s *Session) Active() (Provider, common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, common.Address{}, false
	}
	return s.conn.provider, s.address, true
}

// Refresh re-reads the chain id from the provider.
func (s *Session) Refresh(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil, ErrNotConnected
	}

	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return nil, types.NewError(types.ReasonWrongNetwork, "failed to read wallet network", err)
	}

	s.mu.Lock()
	if s.conn == c {
		s.chainID = new(big.Int).Set(chainID)
	}
	s.mu.Unlock()
	return chainID, nil
}

// OnChain reports whether the last known chain id matches want.
func (s *Session) OnChain(want uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID != nil && s.chainID.IsUint64() && s.chainID.Uint64() == want
}

// SwitchNetwork asks the wallet to switch to chain and re-reads the chain id.
func (s *Session) SwitchNetwork(ctx context.Context, chain types.ChainConfig) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	manual := fmt.Sprintf("please switch your wallet to %s manually", chain.DisplayName)
	if err := c.provider.SwitchChain(ctx, chain.ChainIDHex()); err != nil {
		s.logger.Warn("network switch rejected", map[string]any{"chain": chain.Key.String(), "error": err})
		return types.NewError(types.ReasonWrongNetwork, manual, fmt.Errorf("%w: %v", ErrSwitchRejected, err))
	}

	if _, err := s.Refresh(ctx); err != nil {
		return err
	}
	if !s.OnChain(chain.ChainID) {
		return types.NewError(types.ReasonWrongNetwork, manual, nil)
	}
	return nil
}

// Acquire marks the session busy. Only one connect or submit sequence may
// hold it at a time.
func (s *Session) Acquire() (release func(), err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(func() { s.busy.Store(false) }) }, nil
}
