package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backend/internal/access"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/pricing"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const releaseTimeout = 5 * time.Second

type saleLine struct {
	input        domain.LineInput
	quantity     int
	discountType domain.DiscountType
	discount     decimal.Decimal
}

// CreateSale validates the basket, resolves items, prices and numbers the
// sale, reserves stock atomically and only then records the customer and
// persists the sale. Any failure after the reservation releases it, and
// ad-hoc items created for a rejected sale are deactivated.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleCreateResponse, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if !caps.CanCreateSale {
		return domain.SaleCreateResponse{}, fmt.Errorf("%w: role %s cannot create sales", store.ErrForbidden, caps.Role)
	}

	ctx, cancel := context.WithTimeout(ctx, s.saleTimeout)
	defer cancel()

	lines, err := normalizeSaleRequest(&req)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}

	st, company, err := access.ResolveStore(ctx, caps, req.StoreID, s.repo)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, company.ID, req.IdempotencyKey); err == nil {
			return domain.SaleCreateResponse{Sale: *existing, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleCreateResponse{}, err
		}
	}

	items, adHocIDs, err := s.resolveItems(ctx, st, company, lines)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.StockConflicts.Inc()
		}
		return domain.SaleCreateResponse{}, err
	}

	saleItems, totals, err := buildLineItems(lines, items)
	if err != nil {
		s.discardAdHoc(ctx, adHocIDs)
		return domain.SaleCreateResponse{}, err
	}

	now := s.now().UTC()
	sale := domain.Sale{
		ID:            xid.New("sale"),
		CompanyID:     company.ID,
		StoreID:       st.ID,
		Cashier:       caps.Username,
		Channel:       req.Channel,
		Items:         saleItems,
		Subtotal:      totals.Subtotal,
		TotalDiscount: totals.TotalDiscount,
		TotalTax:      totals.TotalTax,
		TotalAmount:   totals.TotalAmount,
		Payment: domain.Payment{
			Method: req.Payment.Method,
			Amount: req.Payment.Amount,
			Change: pricing.Change(totals.TotalAmount, req.Payment.Amount),
			Status: req.Payment.Status,
		},
		Status:         domain.InitialSaleStatus(req.Payment.Status),
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		SaleDate:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sale.Payment.Status == domain.PaymentStatusPaid && sale.Payment.Amount.LessThan(sale.TotalAmount) {
		log.Printf("[service] WARN: underpaid sale store=%s total=%s paid=%s", st.ID, sale.TotalAmount, sale.Payment.Amount)
	}
	sale.Number = s.numbers.Next(ctx, company.ID, now)

	err = s.repo.ReserveStock(ctx, domain.StockReservation{
		SaleID:        sale.ID,
		StoreID:       st.ID,
		Lines:         sale.StockLines(),
		AllowNegative: company.AllowNegativeStock,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.StockConflicts.Inc()
		}
		s.discardAdHoc(ctx, adHocIDs)
		return domain.SaleCreateResponse{}, err
	}

	sale.CustomerID, sale.Customer, err = s.upsertCustomer(ctx, company.ID, req.Customer)
	if err != nil {
		s.releaseReservation(ctx, sale.ID, "customer failure")
		s.discardAdHoc(ctx, adHocIDs)
		return domain.SaleCreateResponse{}, err
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		s.releaseReservation(ctx, sale.ID, "persist failure")
		s.discardAdHoc(ctx, adHocIDs)
		if errors.Is(err, store.ErrConflict) && req.IdempotencyKey != "" {
			if existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, company.ID, req.IdempotencyKey); lookupErr == nil {
				return domain.SaleCreateResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.SaleCreateResponse{}, fmt.Errorf("create sale (stock released): %w", err)
	}

	s.refreshStoreStats(ctx, created.StoreID, 1, created.TotalAmount)
	metrics.SalesCreated.WithLabelValues(created.Channel, string(created.Status)).Inc()
	s.logAudit(
		ctx,
		created.StoreID,
		"sale_create",
		"sale",
		created.ID,
		fmt.Sprintf("number=%s,total=%s,payment=%s,lines=%d", created.Number, created.TotalAmount, created.Payment.Method, len(created.Items)),
	)

	return domain.SaleCreateResponse{Sale: *created}, nil
}

// CancelSale restores stock and marks the sale cancelled in one store call.
func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.SaleCancelRequest) (domain.Sale, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if !caps.CanCancelSale {
		return domain.Sale{}, fmt.Errorf("%w: role %s cannot cancel sales", store.ErrForbidden, caps.Role)
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidTransaction)
	}

	ctx, cancel := context.WithTimeout(ctx, s.saleTimeout)
	defer cancel()

	existing, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !caps.Covers(existing.CompanyID, existing.StoreID) {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is outside your scope", store.ErrForbidden, existing.Number)
	}
	if !existing.CanTransitionTo(domain.SaleStatusCancelled) {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is already %s", store.ErrConflict, existing.Number, existing.Status)
	}

	reason := strings.TrimSpace(req.Reason)
	cancelled, err := s.repo.CancelSale(ctx, saleID, reason, s.now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.refreshStoreStats(ctx, cancelled.StoreID, -1, cancelled.TotalAmount.Neg())
	metrics.SalesCancelled.Inc()
	s.logAudit(ctx, cancelled.StoreID, "sale_cancel", "sale", cancelled.ID, fmt.Sprintf("number=%s,reason=%s", cancelled.Number, reason))

	return *cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if !caps.CanViewSales {
		return domain.Sale{}, fmt.Errorf("%w: role %s cannot view sales", store.ErrForbidden, caps.Role)
	}

	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	if !caps.Covers(sale.CompanyID, sale.StoreID) {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is outside your scope", store.ErrForbidden, sale.Number)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, storeID string, status string, date string, limit int) (domain.SaleListResponse, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	if !caps.CanViewSales {
		return domain.SaleListResponse{}, fmt.Errorf("%w: role %s cannot view sales", store.ErrForbidden, caps.Role)
	}

	filter := domain.SaleFilter{
		CompanyID: caps.CompanyID,
		Limit:     clampLimit(limit, 50, 200),
	}
	if caps.Scope == access.ScopeStore || strings.TrimSpace(storeID) != "" {
		st, err := s.visibleStore(ctx, caps, storeID)
		if err != nil {
			return domain.SaleListResponse{}, err
		}
		filter.CompanyID = st.CompanyID
		filter.StoreID = st.ID
	}

	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		filter.Status = domain.SaleStatus(status)
		if !filter.Status.Valid() {
			return domain.SaleListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransaction, status)
		}
	}
	if date = strings.TrimSpace(date); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.SaleListResponse{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		filter.From = day.UTC()
		filter.To = filter.From.AddDate(0, 0, 1)
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) releaseReservation(ctx context.Context, saleID string, cause string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.repo.ReleaseStock(releaseCtx, saleID); err != nil {
		metrics.StockCompensations.WithLabelValues("failed").Inc()
		log.Printf("[service] CRITICAL: failed to release stock for sale=%s after %s: %v", saleID, cause, err)
		return
	}
	metrics.StockCompensations.WithLabelValues("released").Inc()
	log.Printf("[service] WARN: released stock for sale=%s after %s", saleID, cause)
}

func normalizeSaleRequest(req *domain.SaleCreateRequest) ([]saleLine, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Notes = strings.TrimSpace(req.Notes)

	req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
	if req.Channel == "" {
		req.Channel = domain.ChannelPOS
	}
	if req.Channel != domain.ChannelPOS && req.Channel != domain.ChannelOnline {
		return nil, fmt.Errorf("%w: unknown channel %q", store.ErrInvalidTransaction, req.Channel)
	}

	req.Payment.Method = strings.ToLower(strings.TrimSpace(req.Payment.Method))
	if req.Payment.Method == "" {
		req.Payment.Method = "cash"
	}
	if !isSupportedPaymentMethod(req.Payment.Method) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.Payment.Method)
	}
	if req.Payment.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: payment amount must not be negative", store.ErrInvalidTransaction)
	}
	req.Payment.Status = strings.ToLower(strings.TrimSpace(req.Payment.Status))
	if req.Payment.Status == "" {
		req.Payment.Status = domain.PaymentStatusPaid
		if req.Channel == domain.ChannelOnline {
			req.Payment.Status = domain.PaymentStatusPending
		}
	}
	if req.Payment.Status != domain.PaymentStatusPaid && req.Payment.Status != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: unknown payment status %q", store.ErrInvalidTransaction, req.Payment.Status)
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", store.ErrInvalidTransaction)
	}
	lines := make([]saleLine, 0, len(req.Items))
	for i, item := range req.Items {
		line, err := toSaleLine(item)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", store.ErrInvalidTransaction, i+1, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func toSaleLine(item domain.SaleLineRequest) (saleLine, error) {
	catalogID := strings.TrimSpace(item.CatalogItemID)
	name := strings.TrimSpace(item.Name)

	var input domain.LineInput
	priceHint := decimal.Zero
	switch {
	case catalogID != "" && (name != "" || item.UnitPrice != nil):
		return saleLine{}, errors.New("use either catalog_item_id or name with unit_price")
	case catalogID != "":
		input = domain.CatalogRef{ItemID: catalogID}
	case name != "" && item.UnitPrice != nil:
		input = domain.AdHocLine{Name: name, UnitPrice: *item.UnitPrice}
		priceHint = *item.UnitPrice
	default:
		return saleLine{}, errors.New("catalog_item_id or name with unit_price is required")
	}

	discountType := domain.DiscountType(strings.ToLower(strings.TrimSpace(string(item.DiscountType))))
	if discountType == "" {
		discountType = domain.DiscountPercentage
	}
	line := saleLine{
		input:        input,
		quantity:     item.Quantity,
		discountType: discountType,
		discount:     item.Discount,
	}

	// Catalog prices are checked when the line is priced; this validates the caller's part.
	if err := pricing.ValidateLine(pricing.Line{
		Quantity:     line.quantity,
		UnitPrice:    priceHint,
		DiscountType: line.discountType,
		Discount:     line.discount,
	}); err != nil {
		return saleLine{}, err
	}
	return line, nil
}

// resolveItems returns one catalog item per line plus the IDs of any ad-hoc
// items it created. Ad-hoc lines are materialized only after every catalog
// reference checked out and has enough stock on hand.
func (s *Service) resolveItems(ctx context.Context, st *domain.Store, company *domain.Company, lines []saleLine) ([]domain.CatalogItem, []string, error) {
	ids := make([]string, 0, len(lines))
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		ref, ok := line.input.(domain.CatalogRef)
		if !ok {
			continue
		}
		if _, dup := wanted[ref.ItemID]; !dup {
			ids = append(ids, ref.ItemID)
		}
		wanted[ref.ItemID] += line.quantity
	}

	found := map[string]domain.CatalogItem{}
	if len(ids) > 0 {
		var err error
		found, err = s.repo.GetCatalogItems(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
	}
	for _, id := range ids {
		item, ok := found[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: catalog item %s", store.ErrNotFound, id)
		}
		if item.StoreID != st.ID {
			return nil, nil, fmt.Errorf("%w: catalog item %s does not belong to store %s", store.ErrInvalidTransaction, id, st.ID)
		}
		if !item.Active {
			return nil, nil, fmt.Errorf("%w: catalog item %s is inactive", store.ErrInvalidTransaction, item.Name)
		}
		// Advisory only: ReserveStock makes the binding decision.
		if !company.AllowNegativeStock && item.CurrentStock < wanted[id] {
			return nil, nil, fmt.Errorf("%w: %s has %d left, %d requested", store.ErrInsufficientStock, item.Name, item.CurrentStock, wanted[id])
		}
	}

	resolved := make([]domain.CatalogItem, len(lines))
	var adHocIDs []string
	for i, line := range lines {
		switch in := line.input.(type) {
		case domain.CatalogRef:
			resolved[i] = found[in.ItemID]
		case domain.AdHocLine:
			item, err := s.materializeAdHoc(ctx, st, in)
			if err != nil {
				s.discardAdHoc(ctx, adHocIDs)
				return nil, nil, err
			}
			resolved[i] = *item
			adHocIDs = append(adHocIDs, item.ID)
		}
	}
	return resolved, adHocIDs, nil
}

// discardAdHoc deactivates ad-hoc items created for a sale that was not
// persisted, so they never show up in the catalog.
func (s *Service) discardAdHoc(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	discardCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, id := range ids {
		if err := s.repo.DeactivateCatalogItem(discardCtx, id); err != nil {
			log.Printf("[service] WARN: failed to deactivate ad-hoc item=%s: %v", id, err)
		}
	}
}

func (s *Service) materializeAdHoc(ctx context.Context, st *domain.Store, in domain.AdHocLine) (*domain.CatalogItem, error) {
	created, err := s.repo.CreateCatalogItem(ctx, domain.CatalogItem{
		CompanyID:    st.CompanyID,
		StoreID:      st.ID,
		SKU:          "ADHOC-" + xid.Short(),
		Name:         in.Name,
		CostPrice:    decimal.Zero,
		SellingPrice: in.UnitPrice,
		CurrentStock: domain.AdHocStock,
		TaxRate:      decimal.Zero,
		Active:       true,
		AdHoc:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("materialize ad-hoc item %q: %w", in.Name, err)
	}
	s.logAudit(ctx, st.ID, "catalog_item_adhoc", "catalog_item", created.ID, fmt.Sprintf("sku=%s,price=%s", created.SKU, created.SellingPrice))
	return created, nil
}

func buildLineItems(lines []saleLine, items []domain.CatalogItem) ([]domain.SaleLineItem, pricing.Totals, error) {
	priced := make([]pricing.Line, len(lines))
	for i, line := range lines {
		item := items[i]
		unitPrice := item.SellingPrice
		if item.TaxInclusive {
			unitPrice = pricing.NetOfTax(item.SellingPrice, item.TaxRate)
		}
		priced[i] = pricing.Line{
			Quantity:     line.quantity,
			UnitPrice:    unitPrice,
			DiscountType: line.discountType,
			Discount:     line.discount,
			TaxRate:      item.TaxRate,
		}
	}

	totals, err := pricing.Calculate(priced)
	if err != nil {
		return nil, pricing.Totals{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	saleItems := make([]domain.SaleLineItem, len(lines))
	for i, p := range priced {
		lt := totals.Lines[i]
		saleItems[i] = domain.SaleLineItem{
			CatalogItemID:  items[i].ID,
			SKU:            items[i].SKU,
			Name:           items[i].Name,
			Quantity:       p.Quantity,
			UnitPrice:      p.UnitPrice,
			DiscountType:   p.DiscountType,
			DiscountValue:  p.Discount,
			DiscountAmount: lt.DiscountAmount,
			TaxRate:        p.TaxRate,
			TaxAmount:      lt.TaxAmount,
			Subtotal:       lt.Subtotal,
			Total:          lt.Total,
			AdHoc:          items[i].AdHoc,
		}
	}
	return saleItems, totals, nil
}

// upsertCustomer matches by email or phone inside the tenant. It is a plain
// lookup-then-create, so two first-time checkouts can race into duplicates.
func (s *Service) upsertCustomer(ctx context.Context, companyID string, in *domain.CustomerInput) (string, domain.CustomerSnapshot, error) {
	if in == nil {
		return "", domain.CustomerSnapshot{}, nil
	}
	snapshot := domain.CustomerSnapshot{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
		Phone: strings.TrimSpace(in.Phone),
	}
	if snapshot.Email == "" && snapshot.Phone == "" {
		return "", snapshot, nil
	}

	existing, err := s.repo.FindCustomer(ctx, companyID, snapshot.Email, snapshot.Phone)
	if err == nil {
		if snapshot.Name == "" {
			snapshot.Name = existing.Name
		}
		return existing.ID, snapshot, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", domain.CustomerSnapshot{}, err
	}

	name := snapshot.Name
	if name == "" {
		name = snapshot.Email
		if name == "" {
			name = snapshot.Phone
		}
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		CompanyID: companyID,
		Name:      name,
		Email:     snapshot.Email,
		Phone:     snapshot.Phone,
	})
	if err != nil {
		return "", domain.CustomerSnapshot{}, fmt.Errorf("create customer: %w", err)
	}
	return created.ID, snapshot, nil
}
