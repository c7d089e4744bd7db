package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
)

func TestCreateSaleConsumesLotsOldestExpiryFirst(t *testing.T) {
	databaseURL := os.Getenv("VENTAS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set VENTAS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-fefo-it-%d", stamp)
	productID := fmt.Sprintf("prod-fefo-it-%d", stamp)
	sku := fmt.Sprintf("SKU-FEFO-IT-%d", stamp)
	lotNearID := fmt.Sprintf("lot-fefo-near-%d", stamp)
	lotFarID := fmt.Sprintf("lot-fefo-far-%d", stamp)
	taxID := fmt.Sprintf("fefo-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE tax_id = $1`, taxID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM lots WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, active)
		VALUES ($1, 'Sucursal FEFO IT', true)
	`, branchID); err != nil {
		t.Fatalf("insert branch: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, unit_price, active, created_at, updated_at)
		VALUES ($1, $2, 'Producto FEFO IT', 'analgesico', 10.00, true, now(), now())
	`, productID, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	// The far lot was received first, so FEFO must order on expiry rather
	// than receipt order.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (id, product_id, branch_id, lot_code, qty_received, qty_remaining, expiry_date, received_at, active, updated_at)
		VALUES
			($1, $3, $4, 'FEFO-FAR', 50, 50, CURRENT_DATE + 180, now() - interval '60 days', true, now()),
			($2, $3, $4, 'FEFO-NEAR', 20, 20, CURRENT_DATE + 15, now() - interval '10 days', true, now())
	`, lotFarID, lotNearID, productID, branchID); err != nil {
		t.Fatalf("insert lots: %v", err)
	}

	sale, err := s.CreateSale(ctx, store.SaleInput{
		CustomerName:  "Cliente FEFO IT",
		CustomerTaxID: taxID,
		BranchID:      branchID,
		PaymentMethod: domain.PaymentMethodCash,
		AmountPaid:    decimal.NewFromInt(1000),
		TaxRate:       decimal.Zero,
		Lines: []domain.SaleLineRequest{
			{ProductID: productID, Qty: 30, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if len(sale.Lines) != 2 {
		t.Fatalf("expected the line to split across 2 lots, got %d", len(sale.Lines))
	}
	if sale.Lines[0].LotID != lotNearID || sale.Lines[0].Qty != 20 {
		t.Fatalf("expected 20 units from the near-expiry lot, got %d from %s", sale.Lines[0].Qty, sale.Lines[0].LotID)
	}
	if sale.Lines[1].LotID != lotFarID || sale.Lines[1].Qty != 10 {
		t.Fatalf("expected 10 units from the far-expiry lot, got %d from %s", sale.Lines[1].Qty, sale.Lines[1].LotID)
	}
	if !sale.Subtotal.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("expected subtotal 300.00, got %s", sale.Subtotal)
	}

	var nearRemaining, farRemaining int
	if err := s.db.QueryRowContext(ctx, `SELECT qty_remaining FROM lots WHERE id = $1`, lotNearID).Scan(&nearRemaining); err != nil {
		t.Fatalf("query near lot: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT qty_remaining FROM lots WHERE id = $1`, lotFarID).Scan(&farRemaining); err != nil {
		t.Fatalf("query far lot: %v", err)
	}
	if nearRemaining != 0 || farRemaining != 40 {
		t.Fatalf("expected remaining 0/40, got %d/%d", nearRemaining, farRemaining)
	}

	// A request beyond the remaining 40 must fail and leave the lots intact.
	_, err = s.CreateSale(ctx, store.SaleInput{
		CustomerTaxID: taxID,
		BranchID:      branchID,
		PaymentMethod: domain.PaymentMethodCard,
		Lines: []domain.SaleLineRequest{
			{ProductID: productID, Qty: 41, UnitPrice: decimal.RequireFromString("10.00")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT qty_remaining FROM lots WHERE id = $1`, lotFarID).Scan(&farRemaining); err != nil {
		t.Fatalf("query far lot after rollback: %v", err)
	}
	if farRemaining != 40 {
		t.Fatalf("expected far lot untouched at 40 after rollback, got %d", farRemaining)
	}
}
