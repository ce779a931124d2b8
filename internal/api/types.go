package api

import (
	"time"

	"github.com/shopspring/decimal"

	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/orders"
)

const timeLayout = "2006-01-02 15:04:05"

// CreateOrderRequest is the body of POST /api/v1/orders. Amount may be sent
// as a JSON number or a string.
type CreateOrderRequest struct {
	Side         models.Side     `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	PricePerUnit int64           `json:"price_per_unit"`
}

// OrderView is the public representation of an order.
type OrderView struct {
	ID           uint        `json:"id"`
	Side         models.Side `json:"side"`
	Status       string      `json:"status"`
	Amount       float64     `json:"amount"`
	Remaining    float64     `json:"remaining"`
	PricePerUnit int64       `json:"price_per_unit"`
	CreatedAt    string      `json:"created_at"`
	Trades       []TradeView `json:"trades,omitempty"`
}

// TradeView is the public representation of a trade.
type TradeView struct {
	ID           uint    `json:"id"`
	BuyerID      uint    `json:"buyer_id"`
	SellerID     uint    `json:"seller_id"`
	Amount       float64 `json:"amount"`
	PricePerUnit int64   `json:"price_per_unit"`
	Fee          int64   `json:"fee"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

// OrderList is one page of orders.
type OrderList struct {
	Data []OrderView `json:"data"`
	Meta PageMeta    `json:"meta"`
}

// PageMeta describes the page returned in OrderList.
type PageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

// AccountView is the caller's balance.
type AccountView struct {
	UserID           uint    `json:"user_id"`
	BalanceCurrency  int64   `json:"balance_currency"`
	BalanceCommodity float64 `json:"balance_commodity"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func newOrderView(o *models.Order) OrderView {
	return OrderView{
		ID:           o.ID,
		Side:         o.Side,
		Status:       string(o.Status),
		Amount:       o.Amount.InexactFloat64(),
		Remaining:    o.Remaining.InexactFloat64(),
		PricePerUnit: o.PricePerUnit,
		CreatedAt:    formatTime(o.CreatedAt),
	}
}

func newOrderDetailView(d *orders.OrderDetail) OrderView {
	view := newOrderView(&d.Order)
	view.Trades = make([]TradeView, 0, len(d.Trades))
	for _, t := range d.Trades {
		view.Trades = append(view.Trades, TradeView{
			ID:           t.ID,
			BuyerID:      t.BuyerID,
			SellerID:     t.SellerID,
			Amount:       t.Amount.InexactFloat64(),
			PricePerUnit: t.PricePerUnit,
			Fee:          t.Fee,
			Status:       string(t.Status),
			CreatedAt:    formatTime(t.CreatedAt),
		})
	}
	return view
}
