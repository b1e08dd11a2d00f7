package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/traderr"
)

// TradingPort adapts any Exchange implementation (BinanceExchange live,
// MockExchange paper) to the control loop's narrow trading-port contract:
// a market-buy/market-sell pair over decimal quantities, credentialed
// per instance rather than through a process-global client.
// BinanceExchange already takes its credentials as constructor
// arguments and MockExchange needs none, so this adapter only needs to
// translate types, not re-scope ownership.
type TradingPort struct {
	Exchange Exchange
}

// NewTradingPort wraps ex to satisfy controlloop.TradingPort.
func NewTradingPort(ex Exchange) *TradingPort {
	return &TradingPort{Exchange: ex}
}

// MarketBuy submits a market buy for quantity units of symbol.
func (p *TradingPort) MarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error) {
	return p.marketOrder(ctx, symbol, OrderSideBuy, quantity)
}

// MarketSell submits a market sell for quantity units of symbol.
func (p *TradingPort) MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error) {
	return p.marketOrder(ctx, symbol, OrderSideSell, quantity)
}

func (p *TradingPort) marketOrder(ctx context.Context, symbol string, side OrderSide, quantity decimal.Decimal) (domain.Order, error) {
	qty, _ := quantity.Float64()

	resp, err := p.Exchange.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", traderr.ErrNetwork, err)
	}
	if resp.Status == OrderStatusRejected {
		return domain.Order{}, fmt.Errorf("%w: %s", traderr.ErrBadParams, resp.Message)
	}

	order, err := p.Exchange.GetOrder(ctx, resp.OrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", traderr.ErrNetwork, err)
	}

	return toDomainOrder(*order), nil
}

func toDomainOrder(o Order) domain.Order {
	out := domain.Order{
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		Side:         toDomainSide(o.Side),
		Type:         domain.OrderTypeMarket,
		Quantity:     decimal.NewFromFloat(o.Quantity),
		Timestamp:    o.CreatedAt,
		Status:       toDomainStatus(o.Status),
		RejectReason: o.RejectReason,
	}
	if o.AvgFillPrice != 0 {
		fp := decimal.NewFromFloat(o.AvgFillPrice)
		out.FillPrice = &fp
	}
	return out
}

func toDomainSide(s OrderSide) domain.Side {
	if s == OrderSideSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func toDomainStatus(s OrderStatus) domain.OrderStatus {
	switch s {
	case OrderStatusFilled:
		return domain.OrderStatusFilled
	case OrderStatusCancelled, OrderStatusRejected:
		if s == OrderStatusRejected {
			return domain.OrderStatusRejected
		}
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusPending
	}
}
