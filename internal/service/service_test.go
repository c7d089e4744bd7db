package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/cache"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/config"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/reorder"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	engine := reorder.NewEngine(cache.NoopReorderCache{}, 5*time.Second)
	cfg := config.Config{DefaultBranchID: "principal"}
	return New(repo, engine, cfg), repo
}

func cashSale(lines ...domain.SaleLineRequest) domain.SaleRequest {
	return domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		AmountPaid:    decimal.NewFromInt(10000),
		Lines:         lines,
	}
}

func paracetamolLine(qty int) domain.SaleLineRequest {
	return domain.SaleLineRequest{ProductID: "prod-paracetamol", Qty: qty, UnitPrice: decimal.RequireFromString("8.50")}
}

func TestProcessSaleComputesTotalsAndDecrementsStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	resp, err := svc.ProcessSale(ctx, cashSale(paracetamolLine(5)))
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}

	qtySum := 0
	for _, line := range resp.Sale.Lines {
		qtySum += line.Qty
	}
	if qtySum != 5 {
		t.Fatalf("expected 5 units across sale lines, got %d", qtySum)
	}
	if !resp.Sale.Subtotal.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("expected subtotal 42.50, got %s", resp.Sale.Subtotal)
	}
	if !resp.Sale.Total.Equal(resp.Sale.Subtotal.Add(resp.Sale.Tax)) {
		t.Fatalf("expected total = subtotal + tax")
	}

	onHand, err := repo.GetStock(ctx, "principal", "prod-paracetamol")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if onHand != 95 {
		t.Fatalf("expected 95 units remaining, got %d", onHand)
	}
}

func TestProcessSaleConsumesOldestExpiryFirst(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.ProcessSale(context.Background(), cashSale(paracetamolLine(30)))
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}

	if len(resp.Sale.Lines) != 1 {
		t.Fatalf("expected a single sale line, got %d", len(resp.Sale.Lines))
	}
	if resp.Sale.Lines[0].LotID != "lot-para-a" {
		t.Fatalf("expected the soonest-expiring lot to be consumed, got %s", resp.Sale.Lines[0].LotID)
	}
}

func TestProcessSaleSplitsLineAcrossLots(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	resp, err := svc.ProcessSale(ctx, cashSale(paracetamolLine(50)))
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}

	if len(resp.Sale.Lines) != 2 {
		t.Fatalf("expected 2 sale lines, got %d", len(resp.Sale.Lines))
	}
	first, second := resp.Sale.Lines[0], resp.Sale.Lines[1]
	if first.LotID != "lot-para-a" || first.Qty != 40 {
		t.Fatalf("expected 40 units from lot-para-a, got %d from %s", first.Qty, first.LotID)
	}
	if second.LotID != "lot-para-b" || second.Qty != 10 {
		t.Fatalf("expected 10 units from lot-para-b, got %d from %s", second.Qty, second.LotID)
	}
	if !first.Subtotal.Equal(decimal.RequireFromString("340.00")) {
		t.Fatalf("expected first line subtotal 340.00, got %s", first.Subtotal)
	}
	if !second.Subtotal.Equal(decimal.RequireFromString("85.00")) {
		t.Fatalf("expected second line subtotal 85.00, got %s", second.Subtotal)
	}

	lots, err := repo.ListLots(ctx, "principal", "prod-paracetamol", false, 10)
	if err != nil {
		t.Fatalf("list lots failed: %v", err)
	}
	for _, lot := range lots {
		if lot.ID == "lot-para-a" && lot.QtyRemaining != 0 {
			t.Fatalf("expected lot-para-a drained, got %d", lot.QtyRemaining)
		}
		if lot.ID == "lot-para-b" && lot.QtyRemaining != 50 {
			t.Fatalf("expected lot-para-b at 50, got %d", lot.QtyRemaining)
		}
	}
}

func TestProcessSaleInsufficientStockNamesProduct(t *testing.T) {
	svc, _ := newTestService()

	// Only 50 eligible units of ibuprofeno exist.
	_, err := svc.ProcessSale(context.Background(), cashSale(
		domain.SaleLineRequest{ProductID: "prod-ibuprofeno", Qty: 60, UnitPrice: decimal.RequireFromString("12.00")},
	))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed insufficient stock error, got %v", err)
	}
	if stockErr.ProductID != "prod-ibuprofeno" {
		t.Fatalf("expected error to name prod-ibuprofeno, got %s", stockErr.ProductID)
	}
	if stockErr.Requested != 60 || stockErr.Available != 50 {
		t.Fatalf("expected requested=60 available=50, got %d/%d", stockErr.Requested, stockErr.Available)
	}
}

func TestProcessSaleFailingLineRollsBackWholeSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	req := cashSale(
		paracetamolLine(10),
		domain.SaleLineRequest{ProductID: "prod-ibuprofeno", Qty: 60, UnitPrice: decimal.RequireFromString("12.00")},
	)
	req.CustomerName = "Carlos Medina"
	req.CustomerTaxID = "7894561"

	_, err := svc.ProcessSale(ctx, req)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	onHand, err := repo.GetStock(ctx, "principal", "prod-paracetamol")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if onHand != 100 {
		t.Fatalf("expected paracetamol stock untouched at 100, got %d", onHand)
	}

	if _, err := repo.GetCustomerByTaxID(ctx, "7894561"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected customer creation to be rolled back, got %v", err)
	}

	sales, err := repo.ListSales(ctx, "principal", time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale rows after rollback, got %d", len(sales))
	}
}

func TestProcessSaleSkipsExpiredInactiveAndEmptyLots(t *testing.T) {
	svc, _ := newTestService()

	// The seed carries an expired, a retired and a drained ibuprofeno lot,
	// all of which would sort before the healthy one.
	resp, err := svc.ProcessSale(context.Background(), cashSale(
		domain.SaleLineRequest{ProductID: "prod-ibuprofeno", Qty: 5, UnitPrice: decimal.RequireFromString("12.00")},
	))
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}

	if len(resp.Sale.Lines) != 1 {
		t.Fatalf("expected a single sale line, got %d", len(resp.Sale.Lines))
	}
	if resp.Sale.Lines[0].LotID != "lot-ibu-a" {
		t.Fatalf("expected only the eligible lot to be consumed, got %s", resp.Sale.Lines[0].LotID)
	}
}

func TestProcessSaleReusesCustomerByTaxID(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	first := cashSale(paracetamolLine(1))
	first.CustomerName = "Ana Rojas"
	first.CustomerTaxID = "4567890"
	firstResp, err := svc.ProcessSale(ctx, first)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}

	second := cashSale(paracetamolLine(1))
	second.CustomerName = "ANA R. DISTINTA"
	second.CustomerTaxID = "4567890"
	secondResp, err := svc.ProcessSale(ctx, second)
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}

	if firstResp.Sale.CustomerID != secondResp.Sale.CustomerID {
		t.Fatalf("expected both sales to share a customer")
	}

	customer, err := repo.GetCustomerByTaxID(ctx, "4567890")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.Name != "Ana Rojas" {
		t.Fatalf("expected original customer name preserved, got %q", customer.Name)
	}
}

func TestProcessSaleWalkInDefaults(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.ProcessSale(context.Background(), cashSale(paracetamolLine(1)))
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}
	if resp.Sale.CustomerID != "cust-walkin" {
		t.Fatalf("expected walk-in customer, got %s", resp.Sale.CustomerID)
	}
	if resp.Sale.BranchID != "principal" {
		t.Fatalf("expected default branch, got %s", resp.Sale.BranchID)
	}
}

func TestProcessSaleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.SaleRequest
	}{
		{"no lines", domain.SaleRequest{PaymentMethod: "cash", AmountPaid: decimal.NewFromInt(10)}},
		{"zero qty", cashSale(domain.SaleLineRequest{ProductID: "prod-paracetamol", Qty: 0, UnitPrice: decimal.NewFromInt(1)})},
		{"negative price", cashSale(domain.SaleLineRequest{ProductID: "prod-paracetamol", Qty: 1, UnitPrice: decimal.NewFromInt(-1)})},
		{"missing product id", cashSale(domain.SaleLineRequest{Qty: 1, UnitPrice: decimal.NewFromInt(1)})},
	}
	for _, tc := range cases {
		var validation *ValidationError
		_, err := svc.ProcessSale(ctx, tc.req)
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	bad := cashSale(paracetamolLine(1))
	bad.PaymentMethod = "cheque"
	var validation *ValidationError
	if _, err := svc.ProcessSale(ctx, bad); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for unsupported payment method")
	}
}

func TestProcessSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ProcessSale(context.Background(), cashSale(
		domain.SaleLineRequest{ProductID: "prod-nope", Qty: 1, UnitPrice: decimal.NewFromInt(1)},
	))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProcessSaleCashRequiresEnoughPayment(t *testing.T) {
	svc, _ := newTestService()

	req := cashSale(paracetamolLine(5))
	req.AmountPaid = decimal.NewFromInt(1)
	_, err := svc.ProcessSale(context.Background(), req)
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected invalid sale for underpaid cash, got %v", err)
	}
}

func TestProcessSaleAppliesDiscount(t *testing.T) {
	svc, _ := newTestService()

	req := cashSale(paracetamolLine(5))
	req.Discount = decimal.RequireFromString("2.50")
	resp, err := svc.ProcessSale(context.Background(), req)
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}
	if !resp.Sale.Discount.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected discount 2.50, got %s", resp.Sale.Discount)
	}
	if !resp.Sale.Subtotal.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("expected subtotal 42.50, got %s", resp.Sale.Subtotal)
	}
	if !resp.Sale.Total.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("expected total 40.00, got %s", resp.Sale.Total)
	}
	if !resp.Sale.Change.Equal(req.AmountPaid.Sub(resp.Sale.Total)) {
		t.Fatalf("expected change against the discounted total, got %s", resp.Sale.Change)
	}
}

func TestProcessSaleRejectsNegativeDiscount(t *testing.T) {
	svc, _ := newTestService()

	req := cashSale(paracetamolLine(5))
	req.Discount = decimal.NewFromInt(-1)
	_, err := svc.ProcessSale(context.Background(), req)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "discount" {
		t.Fatalf("expected validation error on discount, got %v", err)
	}
}

func TestProcessSaleRejectsDiscountAboveSubtotal(t *testing.T) {
	svc, _ := newTestService()

	req := cashSale(paracetamolLine(5))
	req.Discount = decimal.NewFromInt(100)
	_, err := svc.ProcessSale(context.Background(), req)
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected invalid sale for discount above subtotal, got %v", err)
	}
}

func TestReceiveLotRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "caja1", Role: "cashier"})

	_, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{ProductID: "prod-paracetamol", Qty: 10})
	if err == nil {
		t.Fatalf("expected non-admin lot receive to fail")
	}
}

func TestReceiveLotAndStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	lot, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{
		ProductID:  "prod-suero",
		BranchID:   "principal",
		LotCode:    "SUE-2502",
		Qty:        15,
		ExpiryDate: time.Now().UTC().AddDate(0, 6, 0).Format("2006-01-02"),
	})
	if err != nil {
		t.Fatalf("receive lot failed: %v", err)
	}
	if lot.QtyRemaining != 15 {
		t.Fatalf("expected lot to start with full remaining qty, got %d", lot.QtyRemaining)
	}

	stock, err := svc.GetStock(ctx, "principal", "prod-suero")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if stock.OnHand != 35 {
		t.Fatalf("expected 35 on hand after receive, got %d", stock.OnHand)
	}
}

func TestReceiveLotRecordsNotesInAudit(t *testing.T) {
	svc, repo := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	lot, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{
		ProductID:  "prod-suero",
		BranchID:   "principal",
		LotCode:    "SUE-2503",
		Qty:        10,
		ExpiryDate: time.Now().UTC().AddDate(0, 3, 0).Format("2006-01-02"),
		Notes:      "caja dañada en transporte",
	})
	if err != nil {
		t.Fatalf("receive lot failed: %v", err)
	}

	now := time.Now().UTC()
	logs, err := repo.ListAuditLogs(ctx, "principal", now.Add(-time.Minute), now.Add(time.Minute), 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "lot_receive" && entry.EntityID == lot.ID {
			found = true
			if !strings.Contains(entry.Detail, "notes=caja dañada en transporte") {
				t.Fatalf("expected receive notes in audit detail, got %q", entry.Detail)
			}
		}
	}
	if !found {
		t.Fatalf("expected a lot_receive audit entry for %s", lot.ID)
	}
}

func TestAdjustLotRejectsOverdraw(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	_, err := svc.AdjustLot(ctx, "lot-suero-a", domain.LotAdjustRequest{DeltaQty: -100, Reason: "breakage"})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on overdraw, got %v", err)
	}

	lot, err := svc.AdjustLot(ctx, "lot-suero-a", domain.LotAdjustRequest{DeltaQty: -5, Reason: "breakage"})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if lot.QtyRemaining != 15 {
		t.Fatalf("expected 15 remaining after adjustment, got %d", lot.QtyRemaining)
	}
}

func TestExpiryReportListsSoonestFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	report, err := svc.ExpiryReport(ctx, "principal", 60)
	if err != nil {
		t.Fatalf("expiry report failed: %v", err)
	}
	if len(report.Lots) == 0 {
		t.Fatalf("expected at least one expiring lot")
	}
	found := false
	for _, entry := range report.Lots {
		if entry.Lot.ID == "lot-para-a" {
			found = true
			if entry.DaysLeft > 60 {
				t.Fatalf("expected lot-para-a within the 60 day window, got %d days", entry.DaysLeft)
			}
		}
	}
	if !found {
		t.Fatalf("expected lot-para-a in the 60 day expiry report")
	}
}

func TestReorderSuggestionsReflectSalesVelocity(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ProcessSale(ctx, cashSale(paracetamolLine(90))); err != nil {
		t.Fatalf("process sale failed: %v", err)
	}

	resp, err := svc.ReorderSuggestions(ctx, "principal")
	if err != nil {
		t.Fatalf("reorder suggestions failed: %v", err)
	}

	found := false
	for _, item := range resp.Suggestions {
		if item.ProductID == "prod-paracetamol" {
			found = true
			if item.SoldLast30Days != 90 {
				t.Fatalf("expected 90 sold in window, got %d", item.SoldLast30Days)
			}
			if item.CurrentStock != 10 {
				t.Fatalf("expected current stock 10, got %d", item.CurrentStock)
			}
			if item.SuggestedQty < 1 {
				t.Fatalf("expected a positive suggested qty")
			}
		}
	}
	if !found {
		t.Fatalf("expected a reorder suggestion for prod-paracetamol")
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "caja1", Role: "cashier"})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:       "MED-DICLO-50",
		Name:      "Diclofenaco 50mg x10",
		Category:  "antiinflamatorio",
		UnitPrice: decimal.RequireFromString("10.40"),
	})
	if err == nil {
		t.Fatalf("expected non-admin create product to fail")
	}
}

func TestCreateAndListProducts(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:       "med-diclo-50",
		Name:      "Diclofenaco 50mg x10",
		Category:  "antiinflamatorio",
		UnitPrice: decimal.RequireFromString("10.40"),
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.SKU != "MED-DICLO-50" {
		t.Fatalf("expected sku to be upper-cased, got %s", product.SKU)
	}

	products, err := svc.ListProducts(ctx, "diclofenaco", 10)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected the new product to match the query, got %d results", len(products))
	}

	var validation *ValidationError
	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:       "MED-PARA-500",
		Name:      "Paracetamol duplicado",
		Category:  "analgesico",
		UnitPrice: decimal.RequireFromString("8.50"),
	})
	if !errors.As(err, &validation) || validation.Field != "sku" {
		t.Fatalf("expected duplicate sku validation error, got %v", err)
	}
}

func TestGetProduct(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	product, err := svc.GetProduct(ctx, "prod-paracetamol")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.SKU != "MED-PARA-500" {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := svc.GetProduct(ctx, "prod-nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateCustomerKeepsTaxID(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	newPhone := "77712345"
	updated, err := svc.UpdateCustomer(ctx, "cust-walkin", domain.CustomerUpdateRequest{Phone: &newPhone})
	if err != nil {
		t.Fatalf("update customer failed: %v", err)
	}
	if updated.Phone != "77712345" {
		t.Fatalf("expected phone updated, got %s", updated.Phone)
	}

	customer, err := repo.GetCustomerByTaxID(ctx, "0")
	if err != nil {
		t.Fatalf("expected walk-in still resolvable by tax id: %v", err)
	}
	if customer.ID != "cust-walkin" {
		t.Fatalf("unexpected customer %s", customer.ID)
	}
}
