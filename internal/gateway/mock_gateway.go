package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway implements PaymentGateway for testing and load testing
type MockGateway struct {
	config       *MockGatewayConfig
	transactions sync.Map
	mu           sync.RWMutex
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of a successful charge (0.0 to 1.0)
	SuccessRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// FailureReasons is a list of possible decline reasons
	FailureReasons []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		DelayMs:     100,
		FailureReasons: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"processing_error",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}

	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}

	return &MockGateway{config: config}
}

// GetTokenAndPay simulates a provider charge
func (g *MockGateway) GetTokenAndPay(ctx context.Context, spec *PaymentSpec) (*Result, error) {
	if spec == nil {
		return nil, fmt.Errorf("payment spec is required")
	}
	if spec.AmountCts <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	if g.config.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		}
	}

	g.mu.RLock()
	successRate := g.config.SuccessRate
	g.mu.RUnlock()

	transactionID := fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8])

	if rand.Float64() >= successRate {
		reason := "payment_failed"
		if len(g.config.FailureReasons) > 0 {
			reason = g.config.FailureReasons[rand.Intn(len(g.config.FailureReasons))]
		}
		return &Result{Successful: false, FailureReason: reason}, nil
	}

	g.transactions.Store(transactionID, &transactionInfo{
		TransactionID: transactionID,
		ReservationID: spec.ReservationID,
		AmountCts:     spec.AmountCts,
		Currency:      spec.Currency,
		CreatedAt:     time.Now(),
	})

	return &Result{Successful: true, TransactionID: transactionID}, nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate (for testing)
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.config.SuccessRate = rate
}

// Transaction returns a stored transaction (for testing)
func (g *MockGateway) Transaction(transactionID string) (bool, int64) {
	v, ok := g.transactions.Load(transactionID)
	if !ok {
		return false, 0
	}
	return true, v.(*transactionInfo).AmountCts
}

type transactionInfo struct {
	TransactionID string
	ReservationID string
	AmountCts     int64
	Currency      string
	CreatedAt     time.Time
}

// Ensure MockGateway implements PaymentGateway
var _ PaymentGateway = (*MockGateway)(nil)
