package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/pricing"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/store/memory"
)

var saleNumberPattern = regexp.MustCompile(`^SALE-\d{8}-\d{4}-[0-9A-F]{8}$`)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, nil, 5*time.Second), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleEmployee, CompanyID: "acme", StoreID: "acme-central"})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: domain.RoleStoreManager, CompanyID: "acme", StoreID: "acme-central"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleCompanyAdmin, CompanyID: "acme"})
}

func accountantCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "accountant", Role: domain.RoleAccountant, CompanyID: "acme"})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func addItem(t *testing.T, repo *memory.Store, sku string, price string, taxRate string, stock int) domain.CatalogItem {
	t.Helper()
	item, err := repo.CreateCatalogItem(context.Background(), domain.CatalogItem{
		CompanyID:    "acme",
		StoreID:      "acme-central",
		SKU:          sku,
		Name:         "Test " + sku,
		SellingPrice: dec(price),
		TaxRate:      dec(taxRate),
		CurrentStock: stock,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create item %s: %v", sku, err)
	}
	return *item
}

func stockOf(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	item, err := repo.GetCatalogItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return item.CurrentStock
}

func cashSale(lines ...domain.SaleLineRequest) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		StoreID: "acme-central",
		Items:   lines,
		Payment: domain.PaymentRequest{Method: "cash", Amount: dec("100000")},
	}
}

func TestCreateSaleSimpleTotals(t *testing.T) {
	svc, repo := newTestService()
	item := addItem(t, repo, "SIMPLE-1", "1000", "0", 10)

	req := cashSale(domain.SaleLineRequest{CatalogItemID: item.ID, Quantity: 2})
	req.Payment.Amount = dec("2000")
	resp, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	sale := resp.Sale
	if !sale.TotalAmount.Equal(dec("2000")) || !sale.Subtotal.Equal(dec("2000")) {
		t.Fatalf("expected total 2000, got subtotal=%s total=%s", sale.Subtotal, sale.TotalAmount)
	}
	if !sale.Payment.Change.IsZero() {
		t.Fatalf("expected zero change, got %s", sale.Payment.Change)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed, got %s", sale.Status)
	}
	if !saleNumberPattern.MatchString(sale.Number) {
		t.Fatalf("unexpected sale number %q", sale.Number)
	}
	if got := stockOf(t, repo, item.ID); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}

	reloaded, err := repo.FindSaleByID(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("reload sale: %v", err)
	}
	if err := pricing.Verify(*reloaded); err != nil {
		t.Fatalf("expected persisted totals to reconcile, got %v", err)
	}
}

func TestCreateSaleDiscountAndTax(t *testing.T) {
	svc, repo := newTestService()
	item := addItem(t, repo, "TAXED-1", "500", "0.18", 10)

	resp, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{
		CatalogItemID: item.ID,
		Quantity:      3,
		Discount:      dec("10"),
		DiscountType:  domain.DiscountPercentage,
	}))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	sale := resp.Sale
	checks := map[string][2]decimal.Decimal{
		"subtotal": {sale.Subtotal, dec("1500")},
		"discount": {sale.TotalDiscount, dec("150")},
		"tax":      {sale.TotalTax, dec("243")},
		"total":    {sale.TotalAmount, dec("1593")},
	}
	for name, pair := range checks {
		if !pair[0].Equal(pair[1]) {
			t.Fatalf("expected %s %s, got %s", name, pair[1], pair[0])
		}
	}
	if !sale.Items[0].DiscountAmount.Equal(dec("150")) {
		t.Fatalf("expected line discount 150, got %s", sale.Items[0].DiscountAmount)
	}
}

func TestCreateSaleTaxInclusivePrice(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-mug", Quantity: 1}))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	line := resp.Sale.Items[0]
	if !line.UnitPrice.Equal(dec("4")) || !line.TaxAmount.Equal(dec("0.72")) || !line.Total.Equal(dec("4.72")) {
		t.Fatalf("expected 4.00 + 0.72 = 4.72, got unit=%s tax=%s total=%s", line.UnitPrice, line.TaxAmount, line.Total)
	}
}

func TestConcurrentSalesForLastUnit(t *testing.T) {
	svc, repo := newTestService()
	item := addItem(t, repo, "LAST-1", "50", "0", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: item.ID, Quantity: 1}))
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || short != 1 {
		t.Fatalf("expected one sale and one stock conflict, got %d/%d", succeeded, short)
	}
	if got := stockOf(t, repo, item.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}

	sales, err := svc.ListSales(managerCtx(), "", "", "", 0)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales.Sales) != 1 {
		t.Fatalf("expected exactly one persisted sale, got %d", len(sales.Sales))
	}
}

func TestCancelSaleRestoresStockOnce(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.CreateSale(cashierCtx(), cashSale(
		domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 2},
		domain.SaleLineRequest{CatalogItemID: "item-tea", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if stockOf(t, repo, "item-coffee") != 118 || stockOf(t, repo, "item-tea") != 79 {
		t.Fatalf("expected stock to be decremented by the sale")
	}

	cancelled, err := svc.CancelSale(managerCtx(), resp.Sale.ID, domain.SaleCancelRequest{Reason: "customer changed mind"})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled sale with timestamp, got %+v", cancelled)
	}
	if cancelled.Notes != "Cancelled: customer changed mind" {
		t.Fatalf("unexpected notes %q", cancelled.Notes)
	}
	if stockOf(t, repo, "item-coffee") != 120 || stockOf(t, repo, "item-tea") != 80 {
		t.Fatalf("expected stock restored")
	}

	if _, err := svc.CancelSale(managerCtx(), resp.Sale.ID, domain.SaleCancelRequest{}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second cancel, got %v", err)
	}
	if stockOf(t, repo, "item-coffee") != 120 {
		t.Fatalf("expected no double restore")
	}
}

func TestCreateSaleAdHocLine(t *testing.T) {
	svc, repo := newTestService()
	price := dec("7.25")

	resp, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{Name: "Gift wrap", UnitPrice: &price, Quantity: 2}))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	line := resp.Sale.Items[0]
	if !line.AdHoc || line.CatalogItemID == "" {
		t.Fatalf("expected ad-hoc line backed by a catalog item, got %+v", line)
	}
	item, err := repo.GetCatalogItem(context.Background(), line.CatalogItemID)
	if err != nil {
		t.Fatalf("ad-hoc item not persisted: %v", err)
	}
	if !item.AdHoc || item.CurrentStock != domain.AdHocStock-2 {
		t.Fatalf("unexpected ad-hoc item %+v", item)
	}
	if !resp.Sale.TotalAmount.Equal(dec("14.5")) {
		t.Fatalf("expected total 14.50, got %s", resp.Sale.TotalAmount)
	}
}

func TestCreateSaleIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1})
	req.IdempotencyKey = "idem-001"

	first, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("replayed sale failed: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Sale.ID, second)
	}
	if got := stockOf(t, repo, "item-coffee"); got != 119 {
		t.Fatalf("expected a single decrement, got stock %d", got)
	}
}

func TestCreateSaleStoreScopeIsForced(t *testing.T) {
	svc, _ := newTestService()
	req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1})
	req.StoreID = "acme-north"

	resp, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if resp.Sale.StoreID != "acme-central" {
		t.Fatalf("expected own store, got %s", resp.Sale.StoreID)
	}
}

func TestCreateSaleRejections(t *testing.T) {
	svc, _ := newTestService()
	price := dec("1")

	cases := []struct {
		name string
		ctx  context.Context
		req  domain.SaleCreateRequest
		want error
	}{
		{"no actor", context.Background(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1}), store.ErrForbidden},
		{"accountant", accountantCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1}), store.ErrForbidden},
		{"empty basket", cashierCtx(), cashSale(), store.ErrInvalidTransaction},
		{"zero quantity", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee"}), store.ErrInvalidTransaction},
		{"ambiguous line", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Name: "x", UnitPrice: &price, Quantity: 1}), store.ErrInvalidTransaction},
		{"discount over 100", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1, Discount: dec("101")}), store.ErrInvalidTransaction},
		{"unknown item", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-missing", Quantity: 1}), store.ErrNotFound},
		{"item from other store", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-beans", Quantity: 1}), store.ErrInvalidTransaction},
		{"insufficient stock", cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-filter", Quantity: 5}), store.ErrInsufficientStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(tc.ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSaleInactiveStoreIsForbidden(t *testing.T) {
	svc, _ := newTestService()
	req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1})
	req.StoreID = "acme-closed"

	if _, err := svc.CreateSale(adminCtx(), req); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateSaleUnderpaymentIsAccepted(t *testing.T) {
	svc, _ := newTestService()
	req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 2})
	req.Payment.Amount = dec("5")

	resp, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if !resp.Sale.Payment.Change.IsZero() {
		t.Fatalf("expected zero change on underpayment, got %s", resp.Sale.Payment.Change)
	}
}

func TestOnlineSaleStartsPending(t *testing.T) {
	svc, _ := newTestService()
	req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-tea", Quantity: 1})
	req.Channel = "online"
	req.Payment = domain.PaymentRequest{Method: "transfer", Amount: dec("0")}

	resp, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusPending || resp.Sale.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending sale, got status=%s payment=%s", resp.Sale.Status, resp.Sale.Payment.Status)
	}
	if _, err := svc.CancelSale(managerCtx(), resp.Sale.ID, domain.SaleCancelRequest{}); err != nil {
		t.Fatalf("expected pending sale to be cancellable, got %v", err)
	}
}

func TestCreateSaleUpsertsCustomer(t *testing.T) {
	svc, _ := newTestService()

	var ids []string
	for i := 0; i < 2; i++ {
		req := cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1})
		req.Customer = &domain.CustomerInput{Name: "Ada " + strconv.Itoa(i), Email: " ADA@example.com "}
		resp, err := svc.CreateSale(cashierCtx(), req)
		if err != nil {
			t.Fatalf("create sale %d failed: %v", i, err)
		}
		if resp.Sale.Customer.Email != "ada@example.com" {
			t.Fatalf("expected normalized email, got %q", resp.Sale.Customer.Email)
		}
		ids = append(ids, resp.Sale.CustomerID)
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("expected the same customer for both sales, got %v", ids)
	}
}

type failingSaleRepo struct {
	*memory.Store
}

func (r failingSaleRepo) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, errors.New("disk full")
}

func TestCreateSaleReleasesStockWhenPersistFails(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(failingSaleRepo{repo}, nil, time.Second)

	_, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 3}))
	if err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	if got := stockOf(t, repo, "item-coffee"); got != 120 {
		t.Fatalf("expected reservation released, got stock %d", got)
	}
}

type slowReserveRepo struct {
	*memory.Store
}

func (r slowReserveRepo) ReserveStock(ctx context.Context, _ domain.StockReservation) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateSaleHonoursDeadline(t *testing.T) {
	svc := New(slowReserveRepo{memory.NewSeeded()}, nil, 20*time.Millisecond)

	_, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCancelSalePermissions(t *testing.T) {
	svc, _ := newTestService()
	resp, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1}))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := svc.CancelSale(cashierCtx(), resp.Sale.ID, domain.SaleCancelRequest{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected employee cancel to be forbidden, got %v", err)
	}
	globex := WithActor(context.Background(), domain.Actor{Username: "globex-admin", Role: domain.RoleCompanyAdmin, CompanyID: "globex"})
	if _, err := svc.CancelSale(globex, resp.Sale.ID, domain.SaleCancelRequest{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cross-tenant cancel to be forbidden, got %v", err)
	}
	if _, err := svc.CancelSale(managerCtx(), "sale_missing", domain.SaleCancelRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListSalesScoping(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1})); err != nil {
		t.Fatalf("central sale failed: %v", err)
	}
	north := cashSale(domain.SaleLineRequest{CatalogItemID: "item-beans", Quantity: 1})
	north.StoreID = "acme-north"
	if _, err := svc.CreateSale(adminCtx(), north); err != nil {
		t.Fatalf("north sale failed: %v", err)
	}

	own, err := svc.ListSales(cashierCtx(), "acme-north", "", "", 0)
	if err != nil {
		t.Fatalf("cashier list failed: %v", err)
	}
	if len(own.Sales) != 1 || own.Sales[0].StoreID != "acme-central" {
		t.Fatalf("expected only the cashier's store, got %+v", own.Sales)
	}

	all, err := svc.ListSales(accountantCtx(), "", "", "", 0)
	if err != nil {
		t.Fatalf("accountant list failed: %v", err)
	}
	if len(all.Sales) != 2 {
		t.Fatalf("expected both company sales, got %d", len(all.Sales))
	}

	if _, err := svc.ListSales(accountantCtx(), "", "bogus", "", 0); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid status filter, got %v", err)
	}
	if _, err := svc.ListSales(accountantCtx(), "globex-main", "", "", 0); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected foreign store to be forbidden, got %v", err)
	}
}

func TestAdjustStockPolicy(t *testing.T) {
	svc, _ := newTestService()

	item, err := svc.AdjustStock(managerCtx(), "item-filter", domain.StockAdjustRequest{Operation: "subtract", Quantity: 10})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.CurrentStock != 0 {
		t.Fatalf("expected floor at 0, got %d", item.CurrentStock)
	}

	if _, err := svc.AdjustStock(managerCtx(), "item-filter", domain.StockAdjustRequest{Operation: "subtract", Quantity: 1, AllowNegative: true}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected negative stock to be forbidden for acme, got %v", err)
	}
	if _, err := svc.AdjustStock(cashierCtx(), "item-filter", domain.StockAdjustRequest{Operation: "add", Quantity: 1}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected employee adjust to be forbidden, got %v", err)
	}

	globex := WithActor(context.Background(), domain.Actor{Username: "globex-admin", Role: domain.RoleCompanyAdmin, CompanyID: "globex"})
	cups, err := svc.AdjustStock(globex, "item-cups", domain.StockAdjustRequest{Operation: "subtract", Quantity: 15, AllowNegative: true})
	if err != nil {
		t.Fatalf("globex adjust failed: %v", err)
	}
	if cups.CurrentStock != -5 {
		t.Fatalf("expected -5, got %d", cups.CurrentStock)
	}
}

func TestListCatalogItemsLowStock(t *testing.T) {
	svc, _ := newTestService()

	items, err := svc.ListCatalogItems(cashierCtx(), "", true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-filter" {
		t.Fatalf("expected only the filter to need reordering, got %+v", items)
	}
	if _, err := svc.ListCatalogItems(adminCtx(), "", false); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected store_id to be required, got %v", err)
	}
}

func adHocAuditIDs(repo *memory.Store) []string {
	var ids []string
	for _, entry := range repo.AuditLogs() {
		if entry.Action == "catalog_item_adhoc" {
			ids = append(ids, entry.EntityID)
		}
	}
	return ids
}

func TestInsufficientStockLeavesNoRecordsBehind(t *testing.T) {
	svc, repo := newTestService()
	price := dec("5000")

	req := cashSale(
		domain.SaleLineRequest{Name: "Custom Service", UnitPrice: &price, Quantity: 1},
		domain.SaleLineRequest{CatalogItemID: "item-filter", Quantity: 99},
	)
	req.Customer = &domain.CustomerInput{Name: "New Buyer", Email: "new.buyer@example.com"}

	if _, err := svc.CreateSale(cashierCtx(), req); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if ids := adHocAuditIDs(repo); len(ids) != 0 {
		t.Fatalf("expected no ad-hoc item to be created, got %v", ids)
	}
	items, err := repo.ListCatalogItems(context.Background(), domain.CatalogItemFilter{StoreID: "acme-central"})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for _, item := range items {
		if item.AdHoc {
			t.Fatalf("expected no ad-hoc catalog items, got %+v", item)
		}
	}
	if _, err := repo.FindCustomer(context.Background(), "acme", "new.buyer@example.com", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no customer to be created, got %v", err)
	}
	if got := stockOf(t, repo, "item-filter"); got != 4 {
		t.Fatalf("expected filter stock untouched at 4, got %d", got)
	}
}

type outOfStockRepo struct {
	*memory.Store
}

func (r outOfStockRepo) ReserveStock(context.Context, domain.StockReservation) error {
	return store.ErrInsufficientStock
}

func TestLostReservationDeactivatesAdHocItems(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(outOfStockRepo{repo}, nil, time.Second)
	price := dec("12")

	req := cashSale(
		domain.SaleLineRequest{CatalogItemID: "item-coffee", Quantity: 1},
		domain.SaleLineRequest{Name: "Engraving", UnitPrice: &price, Quantity: 1},
	)
	req.Customer = &domain.CustomerInput{Phone: "+62 811 000 111"}

	if _, err := svc.CreateSale(cashierCtx(), req); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	ids := adHocAuditIDs(repo)
	if len(ids) != 1 {
		t.Fatalf("expected one materialized ad-hoc item, got %v", ids)
	}
	item, err := repo.GetCatalogItem(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get ad-hoc item: %v", err)
	}
	if item.Active {
		t.Fatalf("expected ad-hoc item of the rejected sale to be deactivated")
	}
	if _, err := repo.FindCustomer(context.Background(), "acme", "", "+62 811 000 111"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no customer to be created, got %v", err)
	}
}

func TestSaleLifecycleIsAudited(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.CreateSale(cashierCtx(), cashSale(domain.SaleLineRequest{CatalogItemID: "item-tea", Quantity: 1}))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.CancelSale(managerCtx(), resp.Sale.ID, domain.SaleCancelRequest{Reason: "wrong item"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	actors := map[string]string{}
	for _, entry := range repo.AuditLogs() {
		if entry.EntityType == "sale" && entry.EntityID == resp.Sale.ID {
			actors[entry.Action] = entry.ActorUsername
		}
	}
	if actors["sale_create"] != "cashier" {
		t.Fatalf("expected sale_create by cashier, got %q", actors["sale_create"])
	}
	if actors["sale_cancel"] != "manager" {
		t.Fatalf("expected sale_cancel by manager, got %q", actors["sale_cancel"])
	}
}
