package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns cart lines. Every line change resyncs the cart's reservation
// for that product in the same transaction.
type Service struct {
	store        store.Store
	reservations *inventory.Reservations
	log          *zap.Logger
}

func NewService(st store.Store, reservations *inventory.Reservations, log *zap.Logger) *Service {
	return &Service{store: st, reservations: reservations, log: log}
}

type View struct {
	CartID     string            `json:"cart_id,omitempty"`
	Items      []orders.CartLine `json:"items"`
	GrandTotal decimal.Decimal   `json:"grand_total"`
}

type LineResult struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
}

type StockCheck struct {
	Available bool `json:"available"`
	StockLeft int  `json:"stock_left"`
}

func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	view := &View{Items: []orders.CartLine{}, GrandTotal: decimal.Zero}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCartByUser(ctx, userID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		lines, err := tx.CartLines(ctx, c.ID)
		if err != nil {
			return err
		}
		view.CartID = c.ID
		view.Items = lines
		for _, l := range lines {
			view.GrandTotal = view.GrandTotal.Add(l.Total())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SetQuantity sets the line to qty units. The quantity must fit in what
// other carts leave available; the reservation then takes whatever the
// admission check grants. qty <= 0 removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int) (*LineResult, error) {
	if qty <= 0 {
		if err := s.RemoveItem(ctx, userID, productID); err != nil {
			return nil, err
		}
		return &LineResult{ProductID: productID}, nil
	}
	var res *LineResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := s.cartFor(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err = s.setLine(ctx, tx, c.ID, productID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddItem increments the line by qty units, creating it if needed.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*LineResult, error) {
	if qty <= 0 {
		return nil, orders.ErrInvalidQuantity
	}
	var res *LineResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := s.cartFor(ctx, tx, userID)
		if err != nil {
			return err
		}
		current := 0
		line, err := tx.GetCartLine(ctx, c.ID, productID)
		switch {
		case err == nil:
			current = line.Quantity
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
		res, err = s.setLine(ctx, tx, c.ID, productID, current+qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCartByUser(ctx, userID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.DeleteCartLine(ctx, c.ID, productID); err != nil {
			return err
		}
		_, err = s.reservations.Sync(ctx, tx, c.ID, productID, 0)
		return err
	})
}

// CheckStock answers whether qty units of the product are available to the
// user, not counting the user's own reservation.
func (s *Service) CheckStock(ctx context.Context, userID, productID string, qty int) (*StockCheck, error) {
	if qty <= 0 {
		qty = 1
	}
	var out StockCheck
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		cartID := ""
		if c, err := tx.GetCartByUser(ctx, userID); err == nil {
			cartID = c.ID
		} else if !errors.Is(err, orders.ErrNotFound) {
			return err
		}
		left, err := s.reservations.Available(ctx, tx, productID, cartID)
		if err != nil {
			return err
		}
		out = StockCheck{Available: left >= qty, StockLeft: left}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) cartFor(ctx context.Context, tx store.CartTx, userID string) (*orders.Cart, error) {
	c, err := tx.GetCartByUser(ctx, userID)
	if errors.Is(err, orders.ErrNotFound) {
		return tx.CreateCart(ctx, userID)
	}
	return c, err
}

func (s *Service) setLine(ctx context.Context, tx store.Tx, cartID, productID string, qty int) (*LineResult, error) {
	if _, err := tx.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	available, err := s.reservations.Available(ctx, tx, productID, cartID)
	if err != nil {
		return nil, err
	}
	if qty > available {
		return nil, &orders.InsufficientStockError{ProductID: productID, Available: max(available, 0), Requested: qty}
	}
	if err := tx.UpsertCartLine(ctx, cartID, productID, qty); err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}
	granted, err := s.reservations.Sync(ctx, tx, cartID, productID, qty)
	if err != nil {
		return nil, err
	}
	return &LineResult{ProductID: productID, Quantity: qty, Reserved: granted}, nil
}
