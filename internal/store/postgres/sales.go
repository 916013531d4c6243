package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

const saleColumns = `
	id, number, company_id, store_id, cashier, COALESCE(customer_id,''),
	COALESCE(customer_name,''), COALESCE(customer_email,''), COALESCE(customer_phone,''),
	channel, subtotal, total_discount, total_tax, total_amount,
	payment_method, payment_amount, payment_change, payment_status,
	status, notes, COALESCE(idempotency_key,''), sale_date, created_at, updated_at, cancelled_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var cancelledAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.Number,
		&sale.CompanyID,
		&sale.StoreID,
		&sale.Cashier,
		&sale.CustomerID,
		&sale.Customer.Name,
		&sale.Customer.Email,
		&sale.Customer.Phone,
		&sale.Channel,
		&sale.Subtotal,
		&sale.TotalDiscount,
		&sale.TotalTax,
		&sale.TotalAmount,
		&sale.Payment.Method,
		&sale.Payment.Amount,
		&sale.Payment.Change,
		&sale.Payment.Status,
		&sale.Status,
		&sale.Notes,
		&sale.IdempotencyKey,
		&sale.SaleDate,
		&sale.CreatedAt,
		&sale.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		return sale, err
	}
	sale.SaleDate = sale.SaleDate.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	return sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.Number == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, company_id, store_id, cashier, customer_id, customer_name, customer_email, customer_phone,
			channel, subtotal, total_discount, total_tax, total_amount,
			payment_method, payment_amount, payment_change, payment_status,
			status, notes, idempotency_key, sale_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`, sale.ID, sale.Number, sale.CompanyID, sale.StoreID, sale.Cashier, nullIfEmpty(sale.CustomerID),
		nullIfEmpty(sale.Customer.Name), nullIfEmpty(sale.Customer.Email), nullIfEmpty(sale.Customer.Phone),
		sale.Channel, sale.Subtotal, sale.TotalDiscount, sale.TotalTax, sale.TotalAmount,
		sale.Payment.Method, sale.Payment.Amount, sale.Payment.Change, sale.Payment.Status,
		sale.Status, sale.Notes, nullIfEmpty(sale.IdempotencyKey), sale.SaleDate, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.Number)
		}
		return nil, err
	}

	for i, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line_no, catalog_item_id, sku, name, quantity, unit_price, discount_type,
				discount_value, discount_amount, tax_rate, tax_amount, subtotal, total, ad_hoc
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, sale.ID, i+1, item.CatalogItemID, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.DiscountType,
			item.DiscountValue, item.DiscountAmount, item.TaxRate, item.TaxAmount, item.Subtotal, item.Total, item.AdHoc)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, s.db, "id", id, "")
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, companyID string, key string) (*domain.Sale, error) {
	return s.findSale(ctx, s.db, "idempotency_key", key, companyID)
}

func (s *Store) findSale(ctx context.Context, q queryer, column string, value string, companyID string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`SELECT %s FROM sales WHERE %s = $1 AND ($2 = '' OR company_id = $2)`, saleColumns, column)
	sale, err := scanSale(q.QueryRowContext(ctx, query, value, companyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadSaleItems(ctx, q, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, catalog_item_id, sku, name, quantity, unit_price, discount_type, discount_value,
			discount_amount, tax_rate, tax_amount, subtotal, total, ad_hoc
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.SaleLineItem, len(saleIDs))
	for rows.Next() {
		var saleID string
		var item domain.SaleLineItem
		if err := rows.Scan(
			&saleID,
			&item.CatalogItemID,
			&item.SKU,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.DiscountType,
			&item.DiscountValue,
			&item.DiscountAmount,
			&item.TaxRate,
			&item.TaxAmount,
			&item.Subtotal,
			&item.Total,
			&item.AdHoc,
		); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CompanyID != "" {
		add("company_id = $%d", filter.CompanyID)
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if !filter.From.IsZero() {
		add("sale_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("sale_date < $%d", filter.To)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sale_date DESC, number ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) CountSalesForDay(ctx context.Context, companyID string, day time.Time) (int, error) {
	from := nowDateUTC(day)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sales WHERE company_id = $1 AND sale_date >= $2 AND sale_date < $3
	`, companyID, from, from.AddDate(0, 0, 1)).Scan(&count)
	return count, err
}

// CancelSale locks the sale row, claims the (sale, restore) movement and
// gives stock back, all in one transaction.
func (s *Store) CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var locked string
	err = pgTx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sale, err := s.findSale(ctx, pgTx, "id", id, "")
	if err != nil {
		return nil, err
	}
	if err := sale.Cancel(reason, at); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConflict, err)
	}

	lines := sale.StockLines()
	claimed, err := insertMovement(ctx, pgTx, id, domain.MovementRestore, sale.StoreID, lines)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: stock for sale %s was already restored", store.ErrConflict, sale.Number)
	}
	if err := restoreLines(ctx, pgTx, lines); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, notes = $3, cancelled_at = $4, updated_at = $5
		WHERE id = $1
	`, id, sale.Status, sale.Notes, nullTime(sale.CancelledAt), sale.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}
