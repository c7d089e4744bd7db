package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
)

func TestListLotsOrdersNilExpiryLast(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// A dateless lot must sort after every dated one regardless of receipt order.
	if _, err := s.CreateLot(ctx, domain.Lot{
		ProductID:   "prod-paracetamol",
		BranchID:    "principal",
		LotCode:     "PAR-SIN-FECHA",
		QtyReceived: 10,
		ReceivedAt:  time.Now().UTC().AddDate(0, -6, 0),
	}); err != nil {
		t.Fatalf("create lot: %v", err)
	}

	lots, err := s.ListLots(ctx, "principal", "prod-paracetamol", false, 10)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 3 {
		t.Fatalf("expected 3 lots, got %d", len(lots))
	}
	if lots[0].ID != "lot-para-a" || lots[1].ID != "lot-para-b" {
		t.Fatalf("expected dated lots first in expiry order, got %s, %s", lots[0].ID, lots[1].ID)
	}
	if lots[2].ExpiryDate != nil {
		t.Fatalf("expected dateless lot last, got expiry %v", lots[2].ExpiryDate)
	}
}

func TestAdjustLotQty(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.AdjustLotQty(ctx, "lot-amox-a", -30); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on overdraw, got %v", err)
	}
	if _, err := s.AdjustLotQty(ctx, "lot-nope", 5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown lot, got %v", err)
	}

	lot, err := s.AdjustLotQty(ctx, "lot-amox-a", -5)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if lot.QtyRemaining != 20 {
		t.Fatalf("expected 20 remaining, got %d", lot.QtyRemaining)
	}
}

func TestCreateSaleComputesChangeForCash(t *testing.T) {
	s := NewSeeded()

	sale, err := s.CreateSale(context.Background(), store.SaleInput{
		CustomerTaxID: "0",
		BranchID:      "principal",
		PaymentMethod: domain.PaymentMethodCash,
		AmountPaid:    decimal.NewFromInt(50),
		TaxRate:       decimal.Zero,
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-paracetamol", Qty: 2, UnitPrice: decimal.RequireFromString("8.50")},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !sale.Total.Equal(decimal.RequireFromString("17.00")) {
		t.Fatalf("expected total 17.00, got %s", sale.Total)
	}
	if !sale.Change.Equal(decimal.RequireFromString("33.00")) {
		t.Fatalf("expected change 33.00, got %s", sale.Change)
	}
	if sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid status, got %s", sale.Status)
	}
}

func TestCreateSaleAppliesTaxRate(t *testing.T) {
	s := NewSeeded()

	sale, err := s.CreateSale(context.Background(), store.SaleInput{
		CustomerTaxID: "0",
		BranchID:      "principal",
		PaymentMethod: domain.PaymentMethodCard,
		TaxRate:       decimal.RequireFromString("0.13"),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-omeprazol", Qty: 1, UnitPrice: decimal.RequireFromString("15.60")},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Tax.StringFixed(2) != "2.03" {
		t.Fatalf("expected tax 2.03, got %s", sale.Tax)
	}
	if sale.Total.StringFixed(2) != "17.63" {
		t.Fatalf("expected total 17.63, got %s", sale.Total)
	}
	if !sale.Change.IsZero() {
		t.Fatalf("expected zero change for card payment, got %s", sale.Change)
	}
}

func TestCreateSaleTaxAppliesAfterDiscount(t *testing.T) {
	s := NewSeeded()

	sale, err := s.CreateSale(context.Background(), store.SaleInput{
		CustomerTaxID: "0",
		BranchID:      "principal",
		PaymentMethod: domain.PaymentMethodCard,
		Discount:      decimal.RequireFromString("0.60"),
		TaxRate:       decimal.RequireFromString("0.13"),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-omeprazol", Qty: 1, UnitPrice: decimal.RequireFromString("15.60")},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Discount.StringFixed(2) != "0.60" {
		t.Fatalf("expected discount 0.60, got %s", sale.Discount)
	}
	// 13% of 15.00, not of the full 15.60.
	if sale.Tax.StringFixed(2) != "1.95" {
		t.Fatalf("expected tax 1.95, got %s", sale.Tax)
	}
	if sale.Total.StringFixed(2) != "16.95" {
		t.Fatalf("expected total 16.95, got %s", sale.Total)
	}
}

func TestCreateSaleRejectsDiscountAboveSubtotal(t *testing.T) {
	s := NewSeeded()

	_, err := s.CreateSale(context.Background(), store.SaleInput{
		CustomerTaxID: "0",
		BranchID:      "principal",
		PaymentMethod: domain.PaymentMethodCard,
		Discount:      decimal.NewFromInt(100),
		TaxRate:       decimal.Zero,
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-paracetamol", Qty: 2, UnitPrice: decimal.RequireFromString("8.50")},
		},
	})
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected invalid sale for discount above subtotal, got %v", err)
	}
}

func TestLotExpiringTodayIsNotSellable(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if _, err := s.CreateLot(ctx, domain.Lot{
		ProductID:   "prod-suero",
		BranchID:    "principal",
		LotCode:     "SUE-HOY",
		QtyReceived: 10,
		ExpiryDate:  &today,
	}); err != nil {
		t.Fatalf("create lot: %v", err)
	}

	// Only the seeded future-dated lot counts.
	stock, err := s.GetStock(ctx, "principal", "prod-suero")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if stock != 20 {
		t.Fatalf("expected stock 20 excluding same-day expiry, got %d", stock)
	}

	_, err = s.CreateSale(ctx, store.SaleInput{
		CustomerTaxID: "0",
		BranchID:      "principal",
		PaymentMethod: domain.PaymentMethodCard,
		TaxRate:       decimal.Zero,
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-suero", Qty: 25, UnitPrice: decimal.RequireFromString("12.00")},
		},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 20 {
		t.Fatalf("expected 20 available, got %d", stockErr.Available)
	}
}

func TestGetSalesQtyByProductCountsPaidSalesOnly(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.CreateSale(ctx, store.SaleInput{
			CustomerTaxID: "0",
			BranchID:      "principal",
			PaymentMethod: domain.PaymentMethodCard,
			TaxRate:       decimal.Zero,
			Lines: []domain.SaleLineRequest{
				{ProductID: "prod-loratadina", Qty: 3, UnitPrice: decimal.RequireFromString("9.80")},
			},
		}); err != nil {
			t.Fatalf("create sale %d: %v", i, err)
		}
	}

	now := time.Now().UTC()
	sold, err := s.GetSalesQtyByProduct(ctx, "principal", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("sales qty: %v", err)
	}
	if sold["prod-loratadina"] != 6 {
		t.Fatalf("expected 6 units sold, got %d", sold["prod-loratadina"])
	}
}
