package types

import (
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind selects the venue order type used for a leg.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
	OrderKindIOC    OrderKind = "IOC"
)

// OrderState is the venue-reported lifecycle state of a single order.
type OrderState string

const (
	OrderStateNew             OrderState = "NEW"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateExpired         OrderState = "EXPIRED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// ExecutionLeg is one order of a multi-leg execution, created at dispatch.
type ExecutionLeg struct {
	Venue      Venue
	Symbol     Symbol
	Side       Side
	Quantity   fixed.Quantity
	LimitPrice fixed.Price
	Kind       OrderKind
}

// LegResult reports the terminal outcome of a single leg.
type LegResult struct {
	Leg           ExecutionLeg
	ClientOrderID string
	VenueOrderID  string
	State         OrderState
	FilledQty     fixed.Quantity
	AvgFillPrice  fixed.Price
	Fee           fixed.Price
	Err           error
}

// Filled reports whether the leg filled completely.
func (r *LegResult) Filled() bool {
	return r.State == OrderStateFilled
}

// ExecutionStatus is the aggregate terminal status of a multi-leg execution.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionPartial   ExecutionStatus = "PARTIALLY_COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimeout   ExecutionStatus = "TIMEOUT"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// ExecutionResult is the single terminal record of an execution attempt. It
// feeds the risk controller (PnL, failure streak) and the opportunity pool
// (weight adaptation); both deduplicate on ExecutionID.
type ExecutionResult struct {
	ExecutionID    string
	OpportunityID  string
	StrategyKind   StrategyKind
	Status         ExecutionStatus
	Legs           []LegResult
	ExpectedProfit fixed.Price
	RealizedPnL    float64
	TotalFees      fixed.Price
	Latency        time.Duration
	ExecutedAt     time.Time
	FailureReason  string
}

// Success reports whether every leg filled.
func (r *ExecutionResult) Success() bool { return r.Status == ExecutionCompleted }

// StrategyKind distinguishes the two spread-capture strategies.
type StrategyKind string

const (
	StrategyCrossVenue StrategyKind = "cross_venue"
	StrategyTriangular StrategyKind = "triangular"
)
