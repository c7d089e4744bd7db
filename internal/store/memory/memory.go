package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	productIDBySKU  map[string]string
	branchesByID    map[string]domain.Branch
	lotsByKey       map[string][]domain.Lot
	customersByID   map[string]domain.Customer
	customerIDByTax map[string]string
	salesByID       map[string]*domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials
// are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		productsByID:    make(map[string]domain.Product),
		productIDBySKU:  make(map[string]string),
		branchesByID:    make(map[string]domain.Branch),
		lotsByKey:       make(map[string][]domain.Lot),
		customersByID:   make(map[string]domain.Customer),
		customerIDByTax: make(map[string]string),
		salesByID:       make(map[string]*domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.branchesByID["principal"] = domain.Branch{ID: "principal", Name: "Sucursal Principal", Address: "Av. 6 de Agosto 123", Active: true}
	s.branchesByID["norte"] = domain.Branch{ID: "norte", Name: "Sucursal Norte", Address: "Calle Los Pinos 45", Active: true}

	products := []domain.Product{
		{ID: "prod-paracetamol", SKU: "MED-PARA-500", Name: "Paracetamol 500mg x10", GenericName: "paracetamol", Category: "analgesico", UnitPrice: decimal.NewFromFloat(8.50), Active: true},
		{ID: "prod-ibuprofeno", SKU: "MED-IBU-400", Name: "Ibuprofeno 400mg x10", GenericName: "ibuprofeno", Category: "antiinflamatorio", UnitPrice: decimal.NewFromFloat(12.00), Active: true},
		{ID: "prod-amoxicilina", SKU: "MED-AMOX-500", Name: "Amoxicilina 500mg x12", GenericName: "amoxicilina", Category: "antibiotico", UnitPrice: decimal.NewFromFloat(24.90), Active: true},
		{ID: "prod-loratadina", SKU: "MED-LORA-10", Name: "Loratadina 10mg x10", GenericName: "loratadina", Category: "antihistaminico", UnitPrice: decimal.NewFromFloat(9.80), Active: true},
		{ID: "prod-omeprazol", SKU: "MED-OME-20", Name: "Omeprazol 20mg x14", GenericName: "omeprazol", Category: "gastrointestinal", UnitPrice: decimal.NewFromFloat(15.60), Active: true},
		{ID: "prod-suero", SKU: "MED-SUERO-1L", Name: "Suero Oral 1L", GenericName: "", Category: "hidratacion", UnitPrice: decimal.NewFromFloat(18.40), Active: true},
		{ID: "prod-alcohol", SKU: "INS-ALCOHOL-70", Name: "Alcohol 70% 250ml", GenericName: "", Category: "insumo", UnitPrice: decimal.NewFromFloat(7.20), Active: true},
		{ID: "prod-gasas", SKU: "INS-GASA-10", Name: "Gasas Esteriles x10", GenericName: "", Category: "insumo", UnitPrice: decimal.NewFromFloat(6.50), Active: true},
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.productsByID[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
	}

	expiry := func(days int) *time.Time {
		d := nowDateUTC(now).AddDate(0, 0, days)
		return &d
	}
	lots := []domain.Lot{
		{ID: "lot-para-a", ProductID: "prod-paracetamol", BranchID: "principal", LotCode: "PAR-2401", QtyReceived: 40, QtyRemaining: 40, ExpiryDate: expiry(45), ReceivedAt: now.AddDate(0, -2, 0), Active: true},
		{ID: "lot-para-b", ProductID: "prod-paracetamol", BranchID: "principal", LotCode: "PAR-2402", QtyReceived: 60, QtyRemaining: 60, ExpiryDate: expiry(180), ReceivedAt: now.AddDate(0, -1, 0), Active: true},
		{ID: "lot-ibu-a", ProductID: "prod-ibuprofeno", BranchID: "principal", LotCode: "IBU-2401", QtyReceived: 50, QtyRemaining: 50, ExpiryDate: expiry(90), ReceivedAt: now.AddDate(0, -1, 0), Active: true},
		{ID: "lot-ibu-expired", ProductID: "prod-ibuprofeno", BranchID: "principal", LotCode: "IBU-2312", QtyReceived: 30, QtyRemaining: 30, ExpiryDate: expiry(-10), ReceivedAt: now.AddDate(0, -8, 0), Active: true},
		{ID: "lot-ibu-retired", ProductID: "prod-ibuprofeno", BranchID: "principal", LotCode: "IBU-2313", QtyReceived: 30, QtyRemaining: 30, ExpiryDate: expiry(30), ReceivedAt: now.AddDate(0, -3, 0), Active: false},
		{ID: "lot-ibu-empty", ProductID: "prod-ibuprofeno", BranchID: "principal", LotCode: "IBU-2314", QtyReceived: 20, QtyRemaining: 0, ExpiryDate: expiry(20), ReceivedAt: now.AddDate(0, -2, 0), Active: true},
		{ID: "lot-amox-a", ProductID: "prod-amoxicilina", BranchID: "principal", LotCode: "AMX-2401", QtyReceived: 25, QtyRemaining: 25, ExpiryDate: expiry(120), ReceivedAt: now.AddDate(0, -1, 0), Active: true},
		{ID: "lot-lora-a", ProductID: "prod-loratadina", BranchID: "principal", LotCode: "LOR-2401", QtyReceived: 30, QtyRemaining: 30, ExpiryDate: expiry(200), ReceivedAt: now, Active: true},
		{ID: "lot-ome-a", ProductID: "prod-omeprazol", BranchID: "principal", LotCode: "OME-2401", QtyReceived: 35, QtyRemaining: 35, ExpiryDate: expiry(150), ReceivedAt: now, Active: true},
		{ID: "lot-suero-a", ProductID: "prod-suero", BranchID: "principal", LotCode: "SUE-2401", QtyReceived: 20, QtyRemaining: 20, ExpiryDate: expiry(300), ReceivedAt: now, Active: true},
		{ID: "lot-alcohol-a", ProductID: "prod-alcohol", BranchID: "principal", LotCode: "ALC-2401", QtyReceived: 45, QtyRemaining: 45, ExpiryDate: nil, ReceivedAt: now, Active: true},
		{ID: "lot-gasas-a", ProductID: "prod-gasas", BranchID: "norte", LotCode: "GAS-2401", QtyReceived: 80, QtyRemaining: 80, ExpiryDate: nil, ReceivedAt: now, Active: true},
	}
	for _, lot := range lots {
		key := lotKey(lot.BranchID, lot.ProductID)
		s.lotsByKey[key] = append(s.lotsByKey[key], lot)
	}

	walkIn := domain.Customer{
		ID:        "cust-walkin",
		Name:      "Consumidor Final",
		TaxID:     "0",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.customersByID[walkIn.ID] = walkIn
	s.customerIDByTax[walkIn.TaxID] = walkIn.ID

	return s
}

func (s *Store) ListProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	query = strings.ToLower(strings.TrimSpace(query))

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if !p.Active {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Name), query) &&
			!strings.Contains(strings.ToLower(p.GenericName), query) &&
			!strings.Contains(strings.ToLower(p.SKU), query) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	if len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Active = true

	s.productsByID[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDBySKU[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.productsByID[id]
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.Category == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidSale
	}

	product.SKU = existing.SKU
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetBranchByID(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, exists := s.branchesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branchesByID))
	for _, b := range s.branchesByID {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.ID, b.ID)
	})
	return branches, nil
}

func (s *Store) CreateLot(_ context.Context, lot domain.Lot) (*domain.Lot, error) {
	if lot.ProductID == "" || lot.BranchID == "" || lot.QtyReceived < 1 {
		return nil, store.ErrInvalidSale
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if strings.TrimSpace(lot.LotCode) == "" {
		lot.LotCode = "MANUAL-" + lot.ID
	}
	if lot.QtyRemaining < 0 || lot.QtyRemaining > lot.QtyReceived {
		return nil, store.ErrInvalidSale
	}
	if lot.QtyRemaining == 0 {
		lot.QtyRemaining = lot.QtyReceived
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	lot.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[lot.ProductID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.branchesByID[lot.BranchID]; !exists {
		return nil, store.ErrNotFound
	}

	key := lotKey(lot.BranchID, lot.ProductID)
	s.lotsByKey[key] = append(s.lotsByKey[key], lot)
	created := cloneLot(lot)
	return &created, nil
}

func (s *Store) ListLots(_ context.Context, branchID string, productID string, includeExpired bool, limit int) ([]domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	today := nowDateUTC(time.Now().UTC())
	result := make([]domain.Lot, 0, limit)

	appendLot := func(lot domain.Lot) {
		if !includeExpired && lot.ExpiryDate != nil && !lot.ExpiryDate.After(today) {
			return
		}
		result = append(result, cloneLot(lot))
	}

	for key, lots := range s.lotsByKey {
		keyBranch, keyProduct := splitLotKey(key)
		if branchID != "" && keyBranch != branchID {
			continue
		}
		if productID != "" && keyProduct != productID {
			continue
		}
		for _, lot := range lots {
			appendLot(lot)
		}
	}

	slices.SortFunc(result, compareLotForFEFO)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AdjustLotQty(_ context.Context, lotID string, deltaQty int) (*domain.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, lots := range s.lotsByKey {
		for i := range lots {
			if lots[i].ID != lotID {
				continue
			}
			next := lots[i].QtyRemaining + deltaQty
			if next < 0 {
				return nil, store.ErrInsufficientStock
			}
			lots[i].QtyRemaining = next
			s.lotsByKey[key] = lots
			adjusted := cloneLot(lots[i])
			return &adjusted, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListExpiringLots(_ context.Context, branchID string, withinDays int) ([]domain.ExpiringLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if withinDays < 1 {
		withinDays = 30
	}
	today := nowDateUTC(time.Now().UTC())
	horizon := today.AddDate(0, 0, withinDays)

	result := make([]domain.ExpiringLot, 0, 32)
	for key, lots := range s.lotsByKey {
		keyBranch, keyProduct := splitLotKey(key)
		if branchID != "" && keyBranch != branchID {
			continue
		}
		productName := s.productsByID[keyProduct].Name
		for _, lot := range lots {
			if !lot.Active || lot.QtyRemaining < 1 || lot.ExpiryDate == nil {
				continue
			}
			if lot.ExpiryDate.Before(today) || lot.ExpiryDate.After(horizon) {
				continue
			}
			result = append(result, domain.ExpiringLot{
				Lot:         cloneLot(lot),
				ProductName: productName,
				DaysLeft:    int(lot.ExpiryDate.Sub(today).Hours() / 24),
			})
		}
	}

	slices.SortFunc(result, func(a, b domain.ExpiringLot) int {
		return compareLotForFEFO(a.Lot, b.Lot)
	})
	return result, nil
}

func (s *Store) GetStock(_ context.Context, branchID string, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.productsByID[productID]; !exists {
		return 0, store.ErrNotFound
	}
	today := nowDateUTC(time.Now().UTC())
	total := 0
	for _, lot := range s.lotsByKey[lotKey(branchID, productID)] {
		if !lot.Active || lot.QtyRemaining < 1 {
			continue
		}
		if lot.ExpiryDate != nil && !lot.ExpiryDate.After(today) {
			continue
		}
		total += lot.QtyRemaining
	}
	return total, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) GetCustomerByTaxID(_ context.Context, taxID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.customerIDByTax[taxID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := s.customersByID[id]
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, query string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	query = strings.ToLower(strings.TrimSpace(query))

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if query != "" &&
			!strings.Contains(strings.ToLower(c.Name), query) &&
			!strings.Contains(strings.ToLower(c.TaxID), query) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	if len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidSale
	}

	customer.TaxID = existing.TaxID
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

// CreateSale consumes stock oldest-expiry first across the lots of each
// requested product. All mutations happen on working copies and are only
// applied once every line is covered, so a shortage on the last line leaves
// nothing behind.
func (s *Store) CreateSale(_ context.Context, input store.SaleInput) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(input.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.branchesByID[input.BranchID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, line := range input.Lines {
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.productsByID[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
	}

	// Resolve the customer without writing yet; the row is only inserted
	// together with the rest of the sale.
	var customer domain.Customer
	newCustomer := false
	if id, exists := s.customerIDByTax[input.CustomerTaxID]; exists {
		customer = s.customersByID[id]
	} else {
		now := time.Now().UTC()
		customer = domain.Customer{
			ID:        xid.New("cust"),
			Name:      input.CustomerName,
			TaxID:     input.CustomerTaxID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newCustomer = true
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	today := nowDateUTC(createdAt)

	sale := domain.Sale{
		ID:            xid.New("sale"),
		Reference:     input.Reference,
		CustomerID:    customer.ID,
		BranchID:      input.BranchID,
		CashierName:   input.CashierName,
		PaymentMethod: input.PaymentMethod,
		AmountPaid:    input.AmountPaid,
		Status:        domain.SaleStatusPaid,
		CreatedAt:     createdAt,
	}
	if sale.Reference == "" {
		sale.Reference = uuid.NewString()
	}

	// Working copies of every lot slice this sale touches.
	working := make(map[string][]domain.Lot, len(input.Lines))
	subtotal := decimal.Zero
	for _, line := range input.Lines {
		key := lotKey(input.BranchID, line.ProductID)
		lots, ok := working[key]
		if !ok {
			lots = cloneLots(s.lotsByKey[key])
			slices.SortFunc(lots, compareLotForFEFO)
			working[key] = lots
		}

		available := 0
		for _, lot := range lots {
			if !eligibleLot(lot, today) {
				continue
			}
			available += lot.QtyRemaining
		}
		if available < line.Qty {
			return nil, &store.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: available,
			}
		}

		needed := line.Qty
		for i := range lots {
			if needed == 0 {
				break
			}
			if !eligibleLot(lots[i], today) {
				continue
			}
			used := needed
			if used > lots[i].QtyRemaining {
				used = lots[i].QtyRemaining
			}
			lots[i].QtyRemaining -= used
			needed -= used

			lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(used)))
			sale.Lines = append(sale.Lines, domain.SaleLine{
				ID:        xid.New("sline"),
				SaleID:    sale.ID,
				ProductID: line.ProductID,
				LotID:     lots[i].ID,
				Qty:       used,
				UnitPrice: line.UnitPrice,
				Subtotal:  lineSubtotal,
			})
			subtotal = subtotal.Add(lineSubtotal)
		}
		working[key] = lots
	}

	if input.Discount.IsNegative() || input.Discount.GreaterThan(subtotal) {
		return nil, store.ErrInvalidSale
	}
	sale.Subtotal = subtotal
	sale.Discount = input.Discount
	taxable := subtotal.Sub(input.Discount)
	sale.Tax = taxable.Mul(input.TaxRate).Round(2)
	sale.Total = taxable.Add(sale.Tax)
	if input.PaymentMethod == domain.PaymentMethodCash {
		if sale.AmountPaid.LessThan(sale.Total) {
			return nil, store.ErrInvalidSale
		}
		sale.Change = sale.AmountPaid.Sub(sale.Total)
	} else {
		sale.Change = decimal.Zero
	}

	// Commit point: every line was covered, apply all mutations.
	for key, lots := range working {
		s.lotsByKey[key] = lots
	}
	if newCustomer {
		s.customersByID[customer.ID] = customer
		s.customerIDByTax[customer.TaxID] = customer.ID
	}
	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved

	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSalesQtyByProduct(_ context.Context, branchID string, from time.Time, to time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	for _, sale := range s.salesByID {
		if sale.BranchID != branchID || sale.Status != domain.SaleStatusPaid {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		for _, line := range sale.Lines {
			result[line.ProductID] += line.Qty
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func lotKey(branchID string, productID string) string {
	return branchID + "::" + productID
}

func splitLotKey(key string) (string, string) {
	idx := strings.Index(key, "::")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+2:]
}

func eligibleLot(lot domain.Lot, today time.Time) bool {
	if !lot.Active || lot.QtyRemaining < 1 {
		return false
	}
	// Expiry must be strictly in the future. A lot dated today is no
	// longer dispensable.
	if lot.ExpiryDate != nil && !lot.ExpiryDate.After(today) {
		return false
	}
	return true
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func compareLotForFEFO(a domain.Lot, b domain.Lot) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneLot(src domain.Lot) domain.Lot {
	dup := src
	if src.ExpiryDate != nil {
		expiry := src.ExpiryDate.UTC()
		dup.ExpiryDate = &expiry
	}
	return dup
}

func cloneLots(src []domain.Lot) []domain.Lot {
	dup := make([]domain.Lot, len(src))
	for i := range src {
		dup[i] = cloneLot(src[i])
	}
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}
