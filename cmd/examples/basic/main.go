package main

import (
	"context"
	"fmt"

	"github.com/erain9/orderdesk/pkg/backend/memory"
	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/matching"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/shopspring/decimal"
)

func order(id string, side core.Side, price, qty string) *core.Order {
	o, err := core.NewOrder(core.OrderParams{
		ID:      "sub-" + id,
		OrderID: id,
		Symbol:  "BTCUSDT",
		Side:    side,
		Type:    core.TypeLimit,
		Price:   decimal.RequireFromString(price),
		Qty:     decimal.RequireFromString(qty),
	})
	if err != nil {
		panic(err)
	}
	return o
}

func main() {
	ctx := context.Background()

	// Initialize order book with in-memory backend
	book := core.NewOrderBook(memory.NewMemoryBackend())
	sender := messaging.NewMockMessageSender()
	engine := matching.NewEngine(book, sender)

	for _, o := range []*core.Order{
		order("buy-1", core.Buy, "100", "10"),
		order("sell-1", core.Sell, "110", "10"),
		order("sell-2", core.Sell, "100", "5"),
		order("sell-3", core.Sell, "300", "1"),
	} {
		if _, err := book.CreateOrder(ctx, o); err != nil {
			panic(err)
		}
		fmt.Printf("Created %s order %s: %s x %s\n", o.Side(), o.OrderID(), o.Price(), o.Qty())
	}

	session, err := engine.Begin(ctx, "buy-1")
	if err != nil {
		panic(err)
	}

	fmt.Println("\nCandidates for buy-1:")
	for _, c := range session.Candidates() {
		fmt.Printf("- %s at %s x %s: %s%% (perfect=%v)\n",
			c.Order.OrderID(), c.Order.Price(), c.Order.Qty(), c.Percentage(), c.IsPerfect())
	}

	perfect, err := session.Select("sell-1")
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nSelected sell-1, perfect match: %v\n", perfect)

	if _, err := session.Confirm(ctx); err != nil {
		fmt.Printf("Confirm without adjustment: %v\n", err)
	}

	terms, err := session.Adjust(matching.AdoptSellValues)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Adopting sell values: %s x %s = %s\n", terms.Price, terms.Qty, terms.Total())

	result, err := session.Confirm(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Confirmed: %s is %s at %s, %s is %s\n",
		result.Reference.OrderID(), result.Reference.Status(), result.Reference.Price(),
		result.Counter.OrderID(), result.Counter.Status())

	// Summary
	view := book.Query("BTCUSDT", core.FilterPending)
	fmt.Println("\nStill pending:")
	for _, o := range append(view.BuyOrders, view.SellOrders...) {
		fmt.Printf("- %s %s: %s x %s\n", o.Side(), o.OrderID(), o.Price(), o.Qty())
	}
	for _, msg := range sender.Messages() {
		fmt.Printf("Published match %s <-> %s at %s%%\n", msg.ReferenceOrderID, msg.CounterOrderID, msg.MatchPercentage)
	}
}
