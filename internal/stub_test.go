package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/internal/repository"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
)

// stubClient implementa broker.Client con hooks intercambiables por test.
// Los hooks nil responden vacío sin error.
type stubClient struct {
	mu sync.Mutex

	accountInfoFn func(accountID string) (*broker.AccountInfo, error)
	positionsFn   func(accountID string) ([]*broker.Position, error)
	historyFn     func(accountID string) ([]*broker.Deal, error)
	executeFn     func(accountID string, req *broker.OrderRequest) (*broker.OrderResult, error)
	closeFn       func(accountID, positionID string) (*broker.CloseResult, error)
	subscribeFn   func(accountID string) (broker.StreamSession, error)

	executeCalls int
	closeCalls   int
	lastOrder    *broker.OrderRequest
}

func (c *stubClient) GetAccountInfo(ctx context.Context, accountID, region string) (*broker.AccountInfo, error) {
	c.mu.Lock()
	fn := c.accountInfoFn
	c.mu.Unlock()
	if fn == nil {
		return &broker.AccountInfo{}, nil
	}
	return fn(accountID)
}

func (c *stubClient) GetPositions(ctx context.Context, accountID, region string) ([]*broker.Position, error) {
	c.mu.Lock()
	fn := c.positionsFn
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(accountID)
}

func (c *stubClient) GetTradeHistory(ctx context.Context, accountID, region string, days, limit int) ([]*broker.Deal, error) {
	c.mu.Lock()
	fn := c.historyFn
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(accountID)
}

func (c *stubClient) ExecuteTrade(ctx context.Context, accountID, region string, req *broker.OrderRequest) (*broker.OrderResult, error) {
	c.mu.Lock()
	c.executeCalls++
	c.lastOrder = req
	fn := c.executeFn
	c.mu.Unlock()
	if fn == nil {
		return &broker.OrderResult{OrderID: "ord-1", PositionID: "90001"}, nil
	}
	return fn(accountID, req)
}

func (c *stubClient) ClosePosition(ctx context.Context, accountID, region, positionID string) (*broker.CloseResult, error) {
	c.mu.Lock()
	c.closeCalls++
	fn := c.closeFn
	c.mu.Unlock()
	if fn == nil {
		return &broker.CloseResult{}, nil
	}
	return fn(accountID, positionID)
}

func (c *stubClient) Subscribe(ctx context.Context, accountID, region string) (broker.StreamSession, error) {
	c.mu.Lock()
	fn := c.subscribeFn
	c.mu.Unlock()
	if fn == nil {
		return newStubSession(), nil
	}
	return fn(accountID)
}

func (c *stubClient) executed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeCalls
}

func (c *stubClient) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *stubClient) order() *broker.OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOrder
}

// stubSession es una sesión de streaming controlada por el test.
type stubSession struct {
	events    chan broker.StreamEvent
	closeOnce sync.Once
}

func newStubSession() *stubSession {
	return &stubSession{events: make(chan broker.StreamEvent, 16)}
}

func (s *stubSession) Events() <-chan broker.StreamEvent { return s.events }

func (s *stubSession) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// noopTelemetry retorna un cliente sin backends; loguear es un no-op.
func noopTelemetry() *telemetry.Client {
	return &telemetry.Client{}
}

func newTestFactory(t *testing.T) *repository.BoltFactory {
	t.Helper()
	factory, err := repository.NewBoltFactory(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { factory.Close() })
	return factory
}

func newTestLog(t *testing.T) *EventLog {
	t.Helper()
	log, err := NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func testConfig() *Config {
	return &Config{
		PoolBaseURL:        "http://pool.local",
		Backend:            "bolt",
		BrokerTimeout:      time.Second,
		ShutdownGrace:      time.Second,
		ReconcileInterval:  time.Minute,
		OrderRatePerSecond: 100,
		OrderBurst:         10,
		Accounts: map[string]AccountConfig{
			"src_1": {ID: "src_1", Region: "new-york"},
			"dst_1": {ID: "dst_1", Region: "new-york"},
		},
		RuleSets: map[string]*domain.RuleSet{
			"rs_default": {ID: "rs_default", SizingMode: domain.SizingFixed, FixedLotSize: 2.50},
		},
		Routes: []*domain.Route{
			{
				ID:              "route_1",
				SourceAccountID: "src_1",
				DestAccountID:   "dst_1",
				RuleSetID:       "rs_default",
				Enabled:         true,
			},
		},
	}
}

func testRoute() *domain.Route {
	return testConfig().Routes[0]
}

func openedEvent() domain.TradeEvent {
	return domain.TradeEvent{
		SourceAccountID:  "src_1",
		SourcePositionID: "45817113",
		Symbol:           "XAUUSD",
		Direction:        domain.DirectionBuy,
		Volume:           0.01,
		Price:            2350.00,
		Time:             time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Kind:             domain.EventOpened,
	}
}
