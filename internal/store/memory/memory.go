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

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	companies       map[string]domain.Company
	stores          map[string]domain.Store
	items           map[string]domain.CatalogItem
	customers       map[string]domain.Customer
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]string
	movements       map[string]domain.StockMovement
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		companies:       make(map[string]domain.Company),
		stores:          make(map[string]domain.Store),
		items:           make(map[string]domain.CatalogItem),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		movements:       make(map[string]domain.StockMovement),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. The shared password comes from
// SEED_USER_PASSWORD; the hardcoded default is only for local runs.
func seedUsers() map[string]domain.UserAccount {
	password := envOr("SEED_USER_PASSWORD", "retail-dev-123")
	if os.Getenv("SEED_USER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_USER_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []domain.UserAccount{
		{Username: "owner", Role: domain.RoleOwner},
		{Username: "admin", Role: domain.RoleCompanyAdmin, CompanyID: "acme"},
		{Username: "accountant", Role: domain.RoleAccountant, CompanyID: "acme"},
		{Username: "manager", Role: domain.RoleStoreManager, CompanyID: "acme", StoreID: "acme-central"},
		{Username: "cashier", Role: domain.RoleEmployee, CompanyID: "acme", StoreID: "acme-central"},
		{Username: "globex-admin", Role: domain.RoleCompanyAdmin, CompanyID: "globex"},
	} {
		u.Password = string(hash)
		u.Active = true
		u.CreatedAt = now
		users[u.Username] = u
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Company{
		{ID: "acme", Name: "Acme Retail", Active: true},
		{ID: "globex", Name: "Globex Market", Active: true, AllowNegativeStock: true},
	} {
		c.CreatedAt = now
		s.companies[c.ID] = c
	}

	for _, st := range []domain.Store{
		{ID: "acme-central", CompanyID: "acme", Name: "Acme Central", Active: true},
		{ID: "acme-north", CompanyID: "acme", Name: "Acme North", Active: true},
		{ID: "acme-closed", CompanyID: "acme", Name: "Acme Old Town", Active: false},
		{ID: "globex-main", CompanyID: "globex", Name: "Globex Main", Active: true},
	} {
		st.CreatedAt = now
		st.Revenue = decimal.Zero
		s.stores[st.ID] = st
	}

	type seedItem struct {
		id, storeID, sku, name string
		cost, price, tax       string
		inclusive              bool
		stock, reorder         int
	}
	for _, it := range []seedItem{
		{"item-coffee", "acme-central", "COF-250", "Ground Coffee 250g", "6.10", "9.50", "0", false, 120, 20},
		{"item-tea", "acme-central", "TEA-100", "Green Tea 100 bags", "3.20", "5.00", "0.18", false, 80, 15},
		{"item-mug", "acme-central", "MUG-01", "Ceramic Mug", "2.00", "4.72", "0.18", true, 30, 5},
		{"item-filter", "acme-central", "FLT-40", "Paper Filters x40", "0.80", "1.99", "0", false, 4, 10},
		{"item-beans", "acme-north", "BEA-1K", "Coffee Beans 1kg", "14.00", "22.00", "0", false, 40, 8},
		{"item-cups", "globex-main", "CUP-50", "Paper Cups x50", "1.50", "3.00", "0", false, 10, 5},
	} {
		st := s.stores[it.storeID]
		s.items[it.id] = domain.CatalogItem{
			ID:           it.id,
			CompanyID:    st.CompanyID,
			StoreID:      it.storeID,
			SKU:          it.sku,
			Name:         it.name,
			CostPrice:    decimal.RequireFromString(it.cost),
			SellingPrice: decimal.RequireFromString(it.price),
			CurrentStock: it.stock,
			MinStock:     it.reorder / 2,
			ReorderPoint: it.reorder,
			TaxRate:      decimal.RequireFromString(it.tax),
			TaxInclusive: it.inclusive,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) GetCompany(_ context.Context, id string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetStore(_ context.Context, id string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) IncrementStoreStats(_ context.Context, storeID string, saleDelta int64, revenueDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stores[storeID]
	if !ok {
		return store.ErrNotFound
	}
	st.SaleCount += saleDelta
	st.Revenue = st.Revenue.Add(revenueDelta)
	s.stores[storeID] = st
	return nil
}

func (s *Store) GetCatalogItem(_ context.Context, id string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetCatalogItems(_ context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListCatalogItems(_ context.Context, filter domain.CatalogItemFilter) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.StoreID != "" && item.StoreID != filter.StoreID {
			continue
		}
		if !item.Active {
			continue
		}
		if filter.LowStockOnly && !item.NeedsReorder() {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) CreateCatalogItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if item.SKU == "" || item.Name == "" || item.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if item.SellingPrice.IsNegative() || item.CostPrice.GreaterThan(item.SellingPrice) {
		return nil, fmt.Errorf("%w: selling price must cover cost price", store.ErrInvalidTransaction)
	}
	for _, existing := range s.items {
		if existing.StoreID == item.StoreID && existing.SKU == item.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists in store %s", store.ErrConflict, item.SKU, item.StoreID)
		}
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) AdjustStock(_ context.Context, itemID string, op domain.StockOperation, qty int, allowNegative bool) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	next, err := domain.ApplyStockOperation(item.CurrentStock, op, qty, allowNegative)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	item.CurrentStock = next
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	return &item, nil
}

func (s *Store) DeactivateCatalogItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Active = false
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

func (s *Store) ReserveStock(_ context.Context, reservation domain.StockReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reservation.SaleID == "" || len(reservation.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, done := s.movements[movementKey(reservation.SaleID, domain.MovementReserve)]; done {
		return nil
	}

	lines := domain.MergeStockLines(reservation.Lines)
	for _, line := range lines {
		if line.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
		item, ok := s.items[line.ItemID]
		if !ok || item.StoreID != reservation.StoreID {
			return fmt.Errorf("%w: catalog item %s is not stocked in store %s", store.ErrInvalidTransaction, line.ItemID, reservation.StoreID)
		}
		if !item.Active {
			return fmt.Errorf("%w: catalog item %s is inactive", store.ErrInvalidTransaction, item.Name)
		}
		if !reservation.AllowNegative && item.CurrentStock < line.Quantity {
			return fmt.Errorf("%w: %s has %d left, %d requested", store.ErrInsufficientStock, item.Name, item.CurrentStock, line.Quantity)
		}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		item := s.items[line.ItemID]
		item.CurrentStock -= line.Quantity
		item.UpdatedAt = now
		s.items[line.ItemID] = item
	}
	s.recordMovement(reservation.SaleID, domain.MovementReserve, reservation.StoreID, lines, now)
	return nil
}

func (s *Store) ReleaseStock(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reserved, ok := s.movements[movementKey(saleID, domain.MovementReserve)]
	if !ok {
		return nil
	}
	if _, done := s.movements[movementKey(saleID, domain.MovementRelease)]; done {
		return nil
	}

	now := time.Now().UTC()
	s.restoreLines(reserved.Lines, now)
	s.recordMovement(saleID, domain.MovementRelease, reserved.StoreID, reserved.Lines, now)
	return nil
}

func (s *Store) FindCustomer(_ context.Context, companyID string, email string, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.CompanyID != companyID {
			continue
		}
		if (email != "" && c.Email == email) || (phone != "" && c.Phone == phone) {
			found := c
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.CompanyID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.Number == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
	}
	if sale.IdempotencyKey != "" {
		if existingID, ok := s.salesByIdem[idemKey(sale.CompanyID, sale.IdempotencyKey)]; ok {
			return nil, fmt.Errorf("%w: idempotency key already used by %s", store.ErrConflict, existingID)
		}
	}
	for _, existing := range s.salesByID {
		if existing.CompanyID == sale.CompanyID && existing.Number == sale.Number {
			return nil, fmt.Errorf("%w: sale number %s already exists", store.ErrConflict, sale.Number)
		}
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	if sale.IdempotencyKey != "" {
		s.salesByIdem[idemKey(sale.CompanyID, sale.IdempotencyKey)] = sale.ID
	}
	return cloneSale(saleCopy), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, companyID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[idemKey(companyID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if filter.CompanyID != "" && sale.CompanyID != filter.CompanyID {
			continue
		}
		if filter.StoreID != "" && sale.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && sale.SaleDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.SaleDate.Before(filter.To) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		return strings.Compare(a.Number, b.Number)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) CountSalesForDay(_ context.Context, companyID string, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := nowDateUTC(day)
	to := from.AddDate(0, 0, 1)
	count := 0
	for _, sale := range s.salesByID {
		if sale.CompanyID == companyID && !sale.SaleDate.Before(from) && sale.SaleDate.Before(to) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CancelSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, restored := s.movements[movementKey(id, domain.MovementRestore)]; restored {
		return nil, fmt.Errorf("%w: stock for sale %s was already restored", store.ErrConflict, sale.Number)
	}

	updated := cloneSale(sale)
	if err := updated.Cancel(reason, at); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConflict, err)
	}

	lines := updated.StockLines()
	s.restoreLines(lines, at)
	s.recordMovement(id, domain.MovementRestore, updated.StoreID, lines, at)
	s.salesByID[id] = updated

	return cloneSale(updated), nil
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

// AuditLogs returns a copy of the audit trail, newest last.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLogs)
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// restoreLines adds stock back unconditionally, even to inactive items.
// Callers hold the write lock.
func (s *Store) restoreLines(lines []domain.StockLine, at time.Time) {
	for _, line := range lines {
		item, ok := s.items[line.ItemID]
		if !ok {
			continue
		}
		item.CurrentStock += line.Quantity
		item.UpdatedAt = at
		s.items[line.ItemID] = item
	}
}

func (s *Store) recordMovement(saleID string, kind string, storeID string, lines []domain.StockLine, at time.Time) {
	s.movements[movementKey(saleID, kind)] = domain.StockMovement{
		SaleID:    saleID,
		Kind:      kind,
		StoreID:   storeID,
		Lines:     slices.Clone(lines),
		CreatedAt: at,
	}
}

func movementKey(saleID string, kind string) string {
	return saleID + "|" + kind
}

func idemKey(companyID string, key string) string {
	return companyID + "|" + key
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}


func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return &dup
}
