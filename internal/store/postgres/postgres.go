package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
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

func (s *Store) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active, allow_negative_stock, created_at
		FROM companies
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Active, &c.AllowNegativeStock, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, active, sale_count, revenue, created_at
		FROM stores
		WHERE id = $1
	`, id).Scan(&st.ID, &st.CompanyID, &st.Name, &st.Active, &st.SaleCount, &st.Revenue, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) IncrementStoreStats(ctx context.Context, storeID string, saleDelta int64, revenueDelta decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stores
		SET sale_count = sale_count + $2, revenue = revenue + $3
		WHERE id = $1
	`, storeID, saleDelta, revenueDelta)
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

const catalogItemColumns = `
	id, company_id, store_id, sku, COALESCE(barcode,''), name, cost_price, selling_price,
	wholesale_price, current_stock, min_stock, reorder_point, tax_rate, tax_inclusive,
	active, ad_hoc, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogItem(row rowScanner) (domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := row.Scan(
		&item.ID,
		&item.CompanyID,
		&item.StoreID,
		&item.SKU,
		&item.Barcode,
		&item.Name,
		&item.CostPrice,
		&item.SellingPrice,
		&item.WholesalePrice,
		&item.CurrentStock,
		&item.MinStock,
		&item.ReorderPoint,
		&item.TaxRate,
		&item.TaxInclusive,
		&item.Active,
		&item.AdHoc,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) GetCatalogItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	item, err := scanCatalogItem(s.db.QueryRowContext(ctx, `SELECT `+catalogItemColumns+` FROM catalog_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCatalogItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	result := make(map[string]domain.CatalogItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+catalogItemColumns+` FROM catalog_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListCatalogItems(ctx context.Context, filter domain.CatalogItemFilter) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+catalogItemColumns+`
		FROM catalog_items
		WHERE active = true
			AND ($1 = '' OR store_id = $1)
			AND (NOT $2 OR (ad_hoc = false AND current_stock <= reorder_point))
		ORDER BY name ASC
	`, filter.StoreID, filter.LowStockOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 64)
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if item.SKU == "" || item.Name == "" || item.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if item.SellingPrice.IsNegative() || item.CostPrice.GreaterThan(item.SellingPrice) {
		return nil, fmt.Errorf("%w: selling price must cover cost price", store.ErrInvalidTransaction)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (
			id, company_id, store_id, sku, barcode, name, cost_price, selling_price, wholesale_price,
			current_stock, min_stock, reorder_point, tax_rate, tax_inclusive, active, ad_hoc, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, item.ID, item.CompanyID, item.StoreID, item.SKU, nullIfEmpty(item.Barcode), item.Name, item.CostPrice, item.SellingPrice,
		item.WholesalePrice, item.CurrentStock, item.MinStock, item.ReorderPoint, item.TaxRate, item.TaxInclusive,
		item.Active, item.AdHoc, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists in store %s", store.ErrConflict, item.SKU, item.StoreID)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, op domain.StockOperation, qty int, allowNegative bool) (*domain.CatalogItem, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var current int
	err = pgTx.QueryRowContext(ctx, `SELECT current_stock FROM catalog_items WHERE id = $1 FOR UPDATE`, itemID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	next, err := domain.ApplyStockOperation(current, op, qty, allowNegative)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	item, err := scanCatalogItem(pgTx.QueryRowContext(ctx, `
		UPDATE catalog_items
		SET current_stock = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+catalogItemColumns, itemID, next))
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeactivateCatalogItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_items
		SET active = false, updated_at = now()
		WHERE id = $1
	`, id)
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

// ReserveStock claims the (sale, reserve) movement first so concurrent
// replays of one sale serialize on its primary key. Rows are decremented in
// item ID order to keep lock acquisition deterministic.
func (s *Store) ReserveStock(ctx context.Context, reservation domain.StockReservation) error {
	if reservation.SaleID == "" || len(reservation.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	lines := domain.MergeStockLines(reservation.Lines)
	for _, line := range lines {
		if line.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	claimed, err := insertMovement(ctx, pgTx, reservation.SaleID, domain.MovementReserve, reservation.StoreID, lines)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	for _, line := range sortedByItem(lines) {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE catalog_items
			SET current_stock = current_stock - $1, updated_at = now()
			WHERE id = $2 AND store_id = $3 AND active = true AND ($4 OR current_stock >= $1)
		`, line.Quantity, line.ItemID, reservation.StoreID, reservation.AllowNegative)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return explainReservationMiss(ctx, pgTx, reservation.StoreID, line)
		}
	}

	return pgTx.Commit()
}

func explainReservationMiss(ctx context.Context, q queryer, storeID string, line domain.StockLine) error {
	var (
		itemStore string
		name      string
		active    bool
		current   int
	)
	err := q.QueryRowContext(ctx, `
		SELECT store_id, name, active, current_stock FROM catalog_items WHERE id = $1
	`, line.ItemID).Scan(&itemStore, &name, &active, &current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows) || itemStore != storeID:
		return fmt.Errorf("%w: catalog item %s is not stocked in store %s", store.ErrInvalidTransaction, line.ItemID, storeID)
	case !active:
		return fmt.Errorf("%w: catalog item %s is inactive", store.ErrInvalidTransaction, name)
	default:
		return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, name, current, line.Quantity)
	}
}

func (s *Store) ReleaseStock(ctx context.Context, saleID string) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var (
		storeID string
		payload []byte
	)
	err = pgTx.QueryRowContext(ctx, `
		SELECT store_id, lines FROM stock_movements WHERE sale_id = $1 AND kind = $2
	`, saleID, domain.MovementReserve).Scan(&storeID, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	var lines []domain.StockLine
	if err := json.Unmarshal(payload, &lines); err != nil {
		return fmt.Errorf("decode reservation %s: %w", saleID, err)
	}

	claimed, err := insertMovement(ctx, pgTx, saleID, domain.MovementRelease, storeID, lines)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := restoreLines(ctx, pgTx, lines); err != nil {
		return err
	}
	return pgTx.Commit()
}

func insertMovement(ctx context.Context, q queryer, saleID string, kind string, storeID string, lines []domain.StockLine) (bool, error) {
	payload, err := json.Marshal(lines)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (sale_id, kind, store_id, lines, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (sale_id, kind) DO NOTHING
	`, saleID, kind, storeID, payload)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// restoreLines ignores the active flag: deactivated items still get their units back.
// Rows are updated in item ID order, the same order ReserveStock locks them in.
func restoreLines(ctx context.Context, q queryer, lines []domain.StockLine) error {
	for _, line := range sortedByItem(lines) {
		if _, err := q.ExecContext(ctx, `
			UPDATE catalog_items
			SET current_stock = current_stock + $1, updated_at = now()
			WHERE id = $2
		`, line.Quantity, line.ItemID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FindCustomer(ctx context.Context, companyID string, email string, phone string) (*domain.Customer, error) {
	if email == "" && phone == "" {
		return nil, store.ErrNotFound
	}

	var c domain.Customer
	var cEmail, cPhone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, email, phone, created_at
		FROM customers
		WHERE company_id = $1 AND (($2 <> '' AND email = $2) OR ($3 <> '' AND phone = $3))
		ORDER BY created_at ASC
		LIMIT 1
	`, companyID, email, phone).Scan(&c.ID, &c.CompanyID, &c.Name, &cEmail, &cPhone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.Email = cEmail.String
	c.Phone = cPhone.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.CompanyID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, company_id, name, email, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.CompanyID, customer.Name, nullIfEmpty(customer.Email), nullIfEmpty(customer.Phone), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer already exists", store.ErrConflict)
		}
		return nil, err
	}
	return &customer, nil
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
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(company_id,''), COALESCE(store_id,''), active, created_at
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
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.CompanyID, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
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
		return store.ErrInvalidTransaction
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

// sortedByItem returns a copy ordered by item ID so every transaction that
// touches several catalog rows locks them in the same order.
func sortedByItem(lines []domain.StockLine) []domain.StockLine {
	ordered := append([]domain.StockLine(nil), lines...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ItemID < ordered[j].ItemID })
	return ordered
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

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
