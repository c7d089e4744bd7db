package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/store"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 200
	}
	query = strings.TrimSpace(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, generic_name, category, unit_price, active, created_at, updated_at
		FROM products
		WHERE active = true
			AND ($1 = '' OR name ILIKE '%' || $1 || '%' OR generic_name ILIKE '%' || $1 || '%' OR sku ILIKE '%' || $1 || '%')
		ORDER BY category, name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.GenericName, &p.Category, &p.UnitPrice, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Active = true
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, generic_name, category, unit_price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.SKU, product.Name, product.GenericName, product.Category, product.UnitPrice, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.findProduct(ctx, "id", id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.findProduct(ctx, "sku", sku)
}

func (s *Store) findProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	if column != "id" && column != "sku" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var product domain.Product
	query := fmt.Sprintf(`
		SELECT id, sku, name, generic_name, category, unit_price, active, created_at, updated_at
		FROM products
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&product.ID, &product.SKU, &product.Name, &product.GenericName, &product.Category,
		&product.UnitPrice, &product.Active, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Category == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, generic_name = $3, category = $4, unit_price = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.GenericName, product.Category, product.UnitPrice, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.findProduct(ctx, "id", product.ID)
}

func (s *Store) GetBranchByID(ctx context.Context, id string) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(address,''), active
		FROM branches
		WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name, &branch.Address, &branch.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(address,''), active
		FROM branches
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var branch domain.Branch
		if err := rows.Scan(&branch.ID, &branch.Name, &branch.Address, &branch.Active); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error) {
	if strings.TrimSpace(lot.ProductID) == "" || strings.TrimSpace(lot.BranchID) == "" || lot.QtyReceived < 1 {
		return nil, store.ErrInvalidSale
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	lot.LotCode = strings.TrimSpace(lot.LotCode)
	if lot.LotCode == "" {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (
			id, product_id, branch_id, lot_code, qty_received, qty_remaining,
			expiry_date, received_at, active, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, lot.ID, lot.ProductID, lot.BranchID, lot.LotCode, lot.QtyReceived, lot.QtyRemaining,
		nullDate(lot.ExpiryDate), lot.ReceivedAt, lot.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := lot
	return &created, nil
}

func (s *Store) ListLots(ctx context.Context, branchID string, productID string, includeExpired bool, limit int) ([]domain.Lot, error) {
	if limit < 1 {
		limit = 200
	}

	query := `
		SELECT id, product_id, branch_id, lot_code, qty_received, qty_remaining,
			expiry_date, received_at, active
		FROM lots
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR product_id = $2)
	`
	if !includeExpired {
		query += ` AND (expiry_date IS NULL OR expiry_date > CURRENT_DATE)`
	}
	query += `
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, branchID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, limit)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func (s *Store) AdjustLotQty(ctx context.Context, lotID string, deltaQty int) (*domain.Lot, error) {
	var lot domain.Lot
	var expiry sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE lots
		SET qty_remaining = qty_remaining + $2, updated_at = now()
		WHERE id = $1 AND qty_remaining + $2 >= 0
		RETURNING id, product_id, branch_id, lot_code, qty_received, qty_remaining,
			expiry_date, received_at, active
	`, lotID, deltaQty).Scan(
		&lot.ID, &lot.ProductID, &lot.BranchID, &lot.LotCode, &lot.QtyReceived,
		&lot.QtyRemaining, &expiry, &lot.ReceivedAt, &lot.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if checkErr := s.db.QueryRowContext(ctx, `SELECT true FROM lots WHERE id = $1`, lotID).Scan(&exists); checkErr == nil {
				return nil, store.ErrInsufficientStock
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	lot.ReceivedAt = lot.ReceivedAt.UTC()
	if expiry.Valid {
		e := nowDateUTC(expiry.Time.UTC())
		lot.ExpiryDate = &e
	}
	return &lot, nil
}

func (s *Store) ListExpiringLots(ctx context.Context, branchID string, withinDays int) ([]domain.ExpiringLot, error) {
	if withinDays < 1 {
		withinDays = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.product_id, l.branch_id, l.lot_code, l.qty_received, l.qty_remaining,
			l.expiry_date, l.received_at, l.active, p.name,
			(l.expiry_date - CURRENT_DATE)::int
		FROM lots l
		JOIN products p ON p.id = l.product_id
		WHERE ($1 = '' OR l.branch_id = $1)
			AND l.active = true
			AND l.qty_remaining > 0
			AND l.expiry_date IS NOT NULL
			AND l.expiry_date >= CURRENT_DATE
			AND l.expiry_date <= CURRENT_DATE + $2::int
		ORDER BY l.expiry_date ASC, l.received_at ASC, l.id ASC
	`, branchID, withinDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ExpiringLot, 0, 32)
	for rows.Next() {
		var entry domain.ExpiringLot
		var expiry sql.NullTime
		if err := rows.Scan(
			&entry.Lot.ID, &entry.Lot.ProductID, &entry.Lot.BranchID, &entry.Lot.LotCode,
			&entry.Lot.QtyReceived, &entry.Lot.QtyRemaining, &expiry, &entry.Lot.ReceivedAt,
			&entry.Lot.Active, &entry.ProductName, &entry.DaysLeft); err != nil {
			return nil, err
		}
		entry.Lot.ReceivedAt = entry.Lot.ReceivedAt.UTC()
		if expiry.Valid {
			e := nowDateUTC(expiry.Time.UTC())
			entry.Lot.ExpiryDate = &e
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetStock(ctx context.Context, branchID string, productID string) (int, error) {
	if _, err := s.findProduct(ctx, "id", productID); err != nil {
		return 0, err
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty_remaining), 0)::int
		FROM lots
		WHERE branch_id = $1
			AND product_id = $2
			AND active = true
			AND qty_remaining > 0
			AND (expiry_date IS NULL OR expiry_date > CURRENT_DATE)
	`, branchID, productID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	return s.findCustomer(ctx, "id", id)
}

func (s *Store) GetCustomerByTaxID(ctx context.Context, taxID string) (*domain.Customer, error) {
	return s.findCustomer(ctx, "tax_id", taxID)
}

func (s *Store) findCustomer(ctx context.Context, column string, value string) (*domain.Customer, error) {
	if column != "id" && column != "tax_id" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var customer domain.Customer
	query := fmt.Sprintf(`
		SELECT id, name, tax_id, COALESCE(phone,''), COALESCE(email,''), created_at, updated_at
		FROM customers
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&customer.ID, &customer.Name, &customer.TaxID, &customer.Phone, &customer.Email,
		&customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	query = strings.TrimSpace(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tax_id, COALESCE(phone,''), COALESCE(email,''), created_at, updated_at
		FROM customers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR tax_id ILIKE '%' || $1 || '%')
		ORDER BY name ASC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID, &c.Phone, &c.Email, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, updated_at = now()
		WHERE id = $1
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.findCustomer(ctx, "id", customer.ID)
}

// CreateSale runs the whole sale in one serializable transaction. Lot rows
// are locked with FOR UPDATE before the availability check, so concurrent
// sales of the same product serialize on the lots instead of double-spending
// them.
func (s *Store) CreateSale(ctx context.Context, input store.SaleInput) (*domain.Sale, error) {
	if len(input.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var branchExists bool
	err = pgTx.QueryRowContext(ctx, `SELECT true FROM branches WHERE id = $1`, input.BranchID).Scan(&branchExists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("branch %s: %w", input.BranchID, store.ErrNotFound)
		}
		return nil, err
	}

	productIDs := uniqueProductIDs(input.Lines)
	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id
		FROM products
		WHERE active = true AND id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	knownProducts := make(map[string]struct{}, len(productIDs))
	for productRows.Next() {
		var id string
		if err := productRows.Scan(&id); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		knownProducts[id] = struct{}{}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()
	for _, id := range productIDs {
		if _, ok := knownProducts[id]; !ok {
			return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
		}
	}

	customerID, err := resolveCustomerTx(ctx, pgTx, input.CustomerName, input.CustomerTaxID)
	if err != nil {
		return nil, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	today := nowDateUTC(createdAt)

	sale := domain.Sale{
		ID:            xid.New("sale"),
		Reference:     input.Reference,
		CustomerID:    customerID,
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

	subtotal := decimal.Zero
	for _, line := range input.Lines {
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidSale
		}

		lotRows, err := pgTx.QueryContext(ctx, `
			SELECT id, expiry_date, qty_remaining
			FROM lots
			WHERE branch_id = $1 AND product_id = $2 AND active = true AND qty_remaining > 0
			ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
			FOR UPDATE
		`, input.BranchID, line.ProductID)
		if err != nil {
			return nil, err
		}
		type lotState struct {
			id        string
			expiry    *time.Time
			remaining int
		}
		lots := make([]lotState, 0, 8)
		for lotRows.Next() {
			var lotID string
			var expiry sql.NullTime
			var remaining int
			if err := lotRows.Scan(&lotID, &expiry, &remaining); err != nil {
				_ = lotRows.Close()
				return nil, err
			}
			var expiryDate *time.Time
			if expiry.Valid {
				e := nowDateUTC(expiry.Time.UTC())
				expiryDate = &e
			}
			lots = append(lots, lotState{id: lotID, expiry: expiryDate, remaining: remaining})
		}
		if err := lotRows.Err(); err != nil {
			_ = lotRows.Close()
			return nil, err
		}
		_ = lotRows.Close()

		available := 0
		for _, lot := range lots {
			if lot.expiry != nil && !lot.expiry.After(today) {
				continue
			}
			available += lot.remaining
		}
		if available < line.Qty {
			return nil, &store.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: available,
			}
		}

		needed := line.Qty
		for _, lot := range lots {
			if needed == 0 {
				break
			}
			if lot.expiry != nil && !lot.expiry.After(today) {
				continue
			}
			used := needed
			if used > lot.remaining {
				used = lot.remaining
			}
			_, err = pgTx.ExecContext(ctx, `
				UPDATE lots
				SET qty_remaining = qty_remaining - $1, updated_at = now()
				WHERE id = $2
			`, used, lot.id)
			if err != nil {
				return nil, err
			}
			needed -= used

			lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(used)))
			sale.Lines = append(sale.Lines, domain.SaleLine{
				ID:        xid.New("sline"),
				SaleID:    sale.ID,
				ProductID: line.ProductID,
				LotID:     lot.id,
				Qty:       used,
				UnitPrice: line.UnitPrice,
				Subtotal:  lineSubtotal,
			})
			subtotal = subtotal.Add(lineSubtotal)
		}
	}

	if input.Discount.IsNegative() || input.Discount.GreaterThan(subtotal) {
		return nil, store.ErrInvalidSale
	}
	sale.Subtotal = subtotal
	sale.Discount = input.Discount
	taxable := subtotal.Sub(input.Discount)
	sale.Tax = taxable.Mul(input.TaxRate).Round(2)
	sale.Total = taxable.Add(sale.Tax)
	if sale.PaymentMethod == domain.PaymentMethodCash {
		if sale.AmountPaid.LessThan(sale.Total) {
			return nil, store.ErrInvalidSale
		}
		sale.Change = sale.AmountPaid.Sub(sale.Total)
	} else {
		sale.Change = decimal.Zero
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, reference, customer_id, branch_id, cashier_name, payment_method,
			amount_paid, subtotal, discount, tax, total, change, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.Reference, sale.CustomerID, sale.BranchID, nullIfEmpty(sale.CashierName),
		sale.PaymentMethod, sale.AmountPaid, sale.Subtotal, sale.Discount, sale.Tax, sale.Total,
		sale.Change, sale.Status, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, product_id, lot_id, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, line.SaleID, line.ProductID, line.LotID, line.Qty, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

// resolveCustomerTx finds the customer with the given tax id inside the sale
// transaction, creating it when absent. An existing customer keeps the name
// first recorded.
func resolveCustomerTx(ctx context.Context, pgTx *sql.Tx, name string, taxID string) (string, error) {
	var customerID string
	err := pgTx.QueryRowContext(ctx, `
		SELECT id FROM customers WHERE tax_id = $1
	`, taxID).Scan(&customerID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	customerID = xid.New("cust")
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO customers (id, name, tax_id, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
	`, customerID, name, taxID)
	if err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var cashier sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference, customer_id, branch_id, cashier_name, payment_method,
			amount_paid, subtotal, discount, tax, total, change, status, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.Reference, &sale.CustomerID, &sale.BranchID, &cashier,
		&sale.PaymentMethod, &sale.AmountPaid, &sale.Subtotal, &sale.Discount, &sale.Tax,
		&sale.Total, &sale.Change, &sale.Status, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if cashier.Valid {
		sale.CashierName = cashier.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lines, err := s.listSaleLines(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (s *Store) listSaleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, lot_id, qty, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.LotID, &line.Qty, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, customer_id, branch_id, cashier_name, payment_method,
			amount_paid, subtotal, discount, tax, total, change, status, created_at
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var cashier sql.NullString
		if err := rows.Scan(
			&sale.ID, &sale.Reference, &sale.CustomerID, &sale.BranchID, &cashier,
			&sale.PaymentMethod, &sale.AmountPaid, &sale.Subtotal, &sale.Discount, &sale.Tax,
			&sale.Total, &sale.Change, &sale.Status, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if cashier.Valid {
			sale.CashierName = cashier.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		lines, err := s.listSaleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}
	return sales, nil
}

func (s *Store) GetSalesQtyByProduct(ctx context.Context, branchID string, from time.Time, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sl.product_id, COALESCE(SUM(sl.qty), 0)::int
		FROM sale_lines sl
		JOIN sales s ON s.id = sl.sale_id
		WHERE s.branch_id = $1
			AND s.status = $2
			AND s.created_at >= $3
			AND s.created_at < $4
		GROUP BY sl.product_id
	`, branchID, domain.SaleStatusPaid, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE branch_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanLot(rows *sql.Rows) (domain.Lot, error) {
	var lot domain.Lot
	var expiry sql.NullTime
	if err := rows.Scan(
		&lot.ID, &lot.ProductID, &lot.BranchID, &lot.LotCode, &lot.QtyReceived,
		&lot.QtyRemaining, &expiry, &lot.ReceivedAt, &lot.Active); err != nil {
		return lot, err
	}
	lot.ReceivedAt = lot.ReceivedAt.UTC()
	if expiry.Valid {
		e := nowDateUTC(expiry.Time.UTC())
		lot.ExpiryDate = &e
	}
	return lot, nil
}

func uniqueProductIDs(lines []domain.SaleLineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}
