package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidProduct = errors.New("invalid product")

type Service struct {
	store  store.Store
	ledger *inventory.Ledger
	log    *zap.Logger
}

func NewService(st store.Store, ledger *inventory.Ledger, log *zap.Logger) *Service {
	return &Service{store: st, ledger: ledger, log: log}
}

type NewProduct struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
	Location     *string         `json:"location,omitempty"`
}

func (n NewProduct) validate() error {
	switch {
	case strings.TrimSpace(n.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case n.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case n.InitialStock < 0:
		return fmt.Errorf("%w: initial stock must not be negative", ErrInvalidProduct)
	}
	return nil
}

// CreateProduct inserts the product together with its first stock record.
// Stock is only ever created with an explicit quantity.
func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (*orders.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &orders.Product{ID: uuid.NewString(), Name: strings.TrimSpace(in.Name), Price: in.Price}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, p); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return s.ledger.Seed(ctx, tx, p.ID, in.InitialStock, in.Location)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("product created", zap.String("product_id", p.ID), zap.Int("initial_stock", in.InitialStock))
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]orders.Product, error) {
	var out []orders.Product
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListProducts(ctx)
		return err
	})
	return out, err
}
