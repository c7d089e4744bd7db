package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/config"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/reorder"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError reports a bad request field before any storage work
// happens. It is distinct from the store sentinels so handlers can map it
// to a client error without guessing.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalidField(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type Service struct {
	repo    store.Repository
	reorder *reorder.Engine
	cfg     config.Config
}

func New(repo store.Repository, reorderEngine *reorder.Engine, cfg config.Config) *Service {
	if cfg.DefaultBranchID == "" {
		cfg.DefaultBranchID = "principal"
	}
	if cfg.WalkInCustomerName == "" {
		cfg.WalkInCustomerName = "Consumidor Final"
	}
	if cfg.WalkInTaxID == "" {
		cfg.WalkInTaxID = "0"
	}

	return &Service{
		repo:    repo,
		reorder: reorderEngine,
		cfg:     cfg,
	}
}

// ProcessSale validates and defaults the request, then hands the storage
// layer one atomic unit of work: resolve the customer by tax id, create the
// sale header and consume lots oldest-expiry first for every line. Totals
// are always recomputed here from the line prices, never taken from the
// client.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerTaxID = strings.TrimSpace(req.CustomerTaxID)
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	if req.CustomerTaxID == "" {
		req.CustomerTaxID = s.cfg.WalkInTaxID
		if req.CustomerName == "" {
			req.CustomerName = s.cfg.WalkInCustomerName
		}
	}
	if req.CustomerName == "" {
		req.CustomerName = s.cfg.WalkInCustomerName
	}
	if req.BranchID == "" {
		req.BranchID = s.cfg.DefaultBranchID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}

	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, invalidField("payment_method", "unsupported payment method "+req.PaymentMethod)
	}
	if req.AmountPaid.IsNegative() {
		return domain.SaleResponse{}, invalidField("amount_paid", "must not be negative")
	}
	if req.Discount.IsNegative() {
		return domain.SaleResponse{}, invalidField("discount", "must not be negative")
	}
	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, invalidField("lines", "at least one line is required")
	}
	for i, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.SaleResponse{}, invalidField(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if line.Qty < 1 {
			return domain.SaleResponse{}, invalidField(fmt.Sprintf("lines[%d].qty", i), "must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return domain.SaleResponse{}, invalidField(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
	}

	actor, _ := ActorFromContext(ctx)

	sale, err := s.repo.CreateSale(ctx, store.SaleInput{
		Reference:     uuid.NewString(),
		CustomerName:  req.CustomerName,
		CustomerTaxID: req.CustomerTaxID,
		BranchID:      req.BranchID,
		CashierName:   actor.Username,
		PaymentMethod: req.PaymentMethod,
		AmountPaid:    req.AmountPaid,
		Discount:      req.Discount,
		TaxRate:       s.cfg.TaxRate,
		Lines:         req.Lines,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, req.BranchID, "sale_process", "sale", sale.ID, fmt.Sprintf("total=%s,payment=%s,lines=%d", sale.Total.StringFixed(2), sale.PaymentMethod, len(sale.Lines)))

	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, invalidField("sale_id", "is required")
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) ListSales(ctx context.Context, branchID string, date string, limit int) (domain.SaleListResponse, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}
	if limit < 1 {
		limit = 100
	}

	from, to, err := dayRange(date)
	if err != nil {
		return domain.SaleListResponse{}, invalidField("date", "expected YYYY-MM-DD")
	}

	sales, err := s.repo.ListSales(ctx, branchID, from, to, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListProducts(ctx, strings.TrimSpace(query), limit)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, invalidField("product_id", "is required")
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.GenericName = strings.TrimSpace(req.GenericName)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" {
		return domain.Product{}, invalidField("sku", "is required")
	}
	if req.Name == "" {
		return domain.Product{}, invalidField("name", "is required")
	}
	if req.Category == "" {
		return domain.Product{}, invalidField("category", "is required")
	}
	if !req.UnitPrice.IsPositive() {
		return domain.Product{}, invalidField("unit_price", "must be positive")
	}

	if _, err := s.repo.GetProductBySKU(ctx, req.SKU); err == nil {
		return domain.Product{}, invalidField("sku", "already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, err
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:          xid.New("prod"),
		SKU:         req.SKU,
		Name:        req.Name,
		GenericName: req.GenericName,
		Category:    req.Category,
		UnitPrice:   req.UnitPrice,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.cfg.DefaultBranchID, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%s", created.SKU, created.UnitPrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, invalidField("product_id", "is required")
	}

	existing, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalidField("name", "must not be empty")
		}
		updated.Name = name
	}
	if req.GenericName != nil {
		updated.GenericName = strings.TrimSpace(*req.GenericName)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, invalidField("category", "must not be empty")
		}
		updated.Category = category
	}
	if req.UnitPrice != nil {
		if !req.UnitPrice.IsPositive() {
			return domain.Product{}, invalidField("unit_price", "must be positive")
		}
		updated.UnitPrice = *req.UnitPrice
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.cfg.DefaultBranchID, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.UnitPrice.StringFixed(2)))
	return *saved, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) ReceiveLot(ctx context.Context, req domain.LotReceiveRequest) (domain.Lot, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Lot{}, fmt.Errorf("admin role required")
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.LotCode = strings.TrimSpace(req.LotCode)
	if req.BranchID == "" {
		req.BranchID = s.cfg.DefaultBranchID
	}
	if req.ProductID == "" {
		return domain.Lot{}, invalidField("product_id", "is required")
	}
	if req.Qty < 1 {
		return domain.Lot{}, invalidField("qty", "must be positive")
	}

	var expiryDate *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return domain.Lot{}, invalidField("expiry_date", "expected YYYY-MM-DD")
		}
		exp := parsed.UTC()
		expiryDate = &exp
	}

	if _, err := s.repo.GetProductByID(ctx, req.ProductID); err != nil {
		return domain.Lot{}, err
	}
	if _, err := s.repo.GetBranchByID(ctx, req.BranchID); err != nil {
		return domain.Lot{}, err
	}

	lot, err := s.repo.CreateLot(ctx, domain.Lot{
		ID:           xid.New("lot"),
		ProductID:    req.ProductID,
		BranchID:     req.BranchID,
		LotCode:      req.LotCode,
		QtyReceived:  req.Qty,
		QtyRemaining: req.Qty,
		ExpiryDate:   expiryDate,
		ReceivedAt:   time.Now().UTC(),
		Active:       true,
	})
	if err != nil {
		return domain.Lot{}, err
	}

	detail := fmt.Sprintf("product=%s,qty=%d,expiry=%s", lot.ProductID, lot.QtyReceived, req.ExpiryDate)
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		detail += ",notes=" + notes
	}
	s.logAudit(ctx, req.BranchID, "lot_receive", "lot", lot.ID, detail)
	return *lot, nil
}

func (s *Service) ListLots(ctx context.Context, branchID string, productID string, includeExpired bool, limit int) (domain.LotListResponse, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}
	if limit < 1 {
		limit = 200
	}

	lots, err := s.repo.ListLots(ctx, branchID, strings.TrimSpace(productID), includeExpired, limit)
	if err != nil {
		return domain.LotListResponse{}, err
	}
	return domain.LotListResponse{Lots: lots}, nil
}

func (s *Service) AdjustLot(ctx context.Context, lotID string, req domain.LotAdjustRequest) (domain.Lot, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Lot{}, fmt.Errorf("admin role required")
	}

	lotID = strings.TrimSpace(lotID)
	if lotID == "" {
		return domain.Lot{}, invalidField("lot_id", "is required")
	}
	if req.DeltaQty == 0 {
		return domain.Lot{}, invalidField("delta_qty", "must not be zero")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	lot, err := s.repo.AdjustLotQty(ctx, lotID, req.DeltaQty)
	if err != nil {
		return domain.Lot{}, err
	}

	s.logAudit(ctx, lot.BranchID, "lot_adjust", "lot", lot.ID, fmt.Sprintf("delta=%d,remaining=%d,reason=%s", req.DeltaQty, lot.QtyRemaining, req.Reason))
	return *lot, nil
}

func (s *Service) ExpiryReport(ctx context.Context, branchID string, withinDays int) (domain.ExpiryReportResponse, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}
	if withinDays < 1 {
		withinDays = 30
	}

	lots, err := s.repo.ListExpiringLots(ctx, branchID, withinDays)
	if err != nil {
		return domain.ExpiryReportResponse{}, err
	}

	return domain.ExpiryReportResponse{
		BranchID:    branchID,
		WithinDays:  withinDays,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Lots:        lots,
	}, nil
}

func (s *Service) GetStock(ctx context.Context, branchID string, productID string) (domain.ProductStock, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductStock{}, invalidField("product_id", "is required")
	}

	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return domain.ProductStock{}, err
	}

	onHand, err := s.repo.GetStock(ctx, branchID, productID)
	if err != nil {
		return domain.ProductStock{}, err
	}
	return domain.ProductStock{ProductID: productID, BranchID: branchID, OnHand: onHand}, nil
}

func (s *Service) ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListCustomers(ctx, strings.TrimSpace(query), limit)
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, invalidField("customer_id", "is required")
	}

	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) GetCustomerByTaxID(ctx context.Context, taxID string) (domain.Customer, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		return domain.Customer{}, invalidField("tax_id", "is required")
	}

	customer, err := s.repo.GetCustomerByTaxID(ctx, taxID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, invalidField("customer_id", "is required")
	}

	existing, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, invalidField("name", "must not be empty")
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.cfg.DefaultBranchID, "customer_update", "customer", saved.ID, "")
	return *saved, nil
}

func (s *Service) ReorderSuggestions(ctx context.Context, branchID string) (domain.ReorderSuggestionResponse, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}

	products, err := s.repo.ListProducts(ctx, "", 500)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	to := time.Now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	soldByProduct, err := s.repo.GetSalesQtyByProduct(ctx, branchID, from, to)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	stockByProduct := make(map[string]int, len(products))
	for _, product := range products {
		onHand, err := s.repo.GetStock(ctx, branchID, product.ID)
		if err != nil {
			return domain.ReorderSuggestionResponse{}, err
		}
		stockByProduct[product.ID] = onHand
	}

	return s.reorder.Suggest(ctx, branchID, products, stockByProduct, soldByProduct), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalidField("date", "expected YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.cfg.DefaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func dayRange(date string) (time.Time, time.Time, error) {
	var from time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed.UTC()
	}
	return from, from.Add(24 * time.Hour), nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer:
		return true
	default:
		return false
	}
}
