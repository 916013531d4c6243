package service

import (
	"context"
	"fmt"
	"strings"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

func (s *Service) ListCatalogItems(ctx context.Context, storeID string, lowStockOnly bool) ([]domain.CatalogItem, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.visibleStore(ctx, caps, storeID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCatalogItems(ctx, domain.CatalogItemFilter{StoreID: st.ID, LowStockOnly: lowStockOnly})
}

// AdjustStock applies a manual add/subtract/set. Going below zero needs both
// the request flag and a tenant that allows negative stock.
func (s *Service) AdjustStock(ctx context.Context, itemID string, req domain.StockAdjustRequest) (domain.CatalogItem, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if !caps.CanAdjustStock {
		return domain.CatalogItem{}, fmt.Errorf("%w: role %s cannot adjust stock", store.ErrForbidden, caps.Role)
	}

	itemID = strings.TrimSpace(itemID)
	req.Operation = domain.StockOperation(strings.ToLower(strings.TrimSpace(string(req.Operation))))
	switch req.Operation {
	case domain.StockAdd, domain.StockSubtract, domain.StockSet:
	default:
		return domain.CatalogItem{}, fmt.Errorf("%w: operation must be add, subtract or set", store.ErrInvalidTransaction)
	}
	if itemID == "" || req.Quantity < 0 {
		return domain.CatalogItem{}, fmt.Errorf("%w: item id and a non-negative quantity are required", store.ErrInvalidTransaction)
	}

	item, err := s.repo.GetCatalogItem(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if !caps.Covers(item.CompanyID, item.StoreID) {
		return domain.CatalogItem{}, fmt.Errorf("%w: item %s is outside your scope", store.ErrForbidden, item.SKU)
	}

	allowNegative := false
	if req.AllowNegative {
		company, err := s.repo.GetCompany(ctx, item.CompanyID)
		if err != nil {
			return domain.CatalogItem{}, err
		}
		if !company.AllowNegativeStock {
			return domain.CatalogItem{}, fmt.Errorf("%w: company %s does not allow negative stock", store.ErrForbidden, company.ID)
		}
		allowNegative = true
	}

	updated, err := s.repo.AdjustStock(ctx, itemID, req.Operation, req.Quantity, allowNegative)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logAudit(ctx, updated.StoreID, "stock_adjust", "catalog_item", updated.ID, fmt.Sprintf("op=%s,qty=%d,before=%d,after=%d", req.Operation, req.Quantity, item.CurrentStock, updated.CurrentStock))
	return *updated, nil
}
