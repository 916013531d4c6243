// Package access turns an authenticated actor into the capabilities and
// store scope the sale engine works with.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeCompany  Scope = "company"
	ScopeStore    Scope = "store"
)

type Capabilities struct {
	Username       string
	Role           string
	Scope          Scope
	CompanyID      string
	StoreID        string
	CanCreateSale  bool
	CanCancelSale  bool
	CanAdjustStock bool
	CanViewSales   bool
}

type roleRule struct {
	scope                           Scope
	create, cancel, adjust, viewAny bool
}

var roleTable = map[string]roleRule{
	domain.RoleOwner:        {scope: ScopePlatform, create: true, cancel: true, adjust: true, viewAny: true},
	domain.RoleCompanyAdmin: {scope: ScopeCompany, create: true, cancel: true, adjust: true, viewAny: true},
	domain.RoleStoreManager: {scope: ScopeStore, create: true, cancel: true, adjust: true, viewAny: true},
	domain.RoleEmployee:     {scope: ScopeStore, create: true, viewAny: true},
	domain.RoleAccountant:   {scope: ScopeCompany, viewAny: true},
}

func Resolve(actor domain.Actor) (Capabilities, error) {
	rule, ok := roleTable[actor.Role]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: unknown role %q", store.ErrForbidden, actor.Role)
	}

	caps := Capabilities{
		Username:       actor.Username,
		Role:           actor.Role,
		Scope:          rule.scope,
		CanCreateSale:  rule.create,
		CanCancelSale:  rule.cancel,
		CanAdjustStock: rule.adjust,
		CanViewSales:   rule.viewAny,
	}
	switch rule.scope {
	case ScopeStore:
		if actor.CompanyID == "" || actor.StoreID == "" {
			return Capabilities{}, fmt.Errorf("%w: %s is not assigned to a store", store.ErrForbidden, actor.Username)
		}
		caps.CompanyID = actor.CompanyID
		caps.StoreID = actor.StoreID
	case ScopeCompany:
		if actor.CompanyID == "" {
			return Capabilities{}, fmt.Errorf("%w: %s is not assigned to a company", store.ErrForbidden, actor.Username)
		}
		caps.CompanyID = actor.CompanyID
	}
	return caps, nil
}

// Covers reports whether a record owned by companyID/storeID is inside the scope.
func (c Capabilities) Covers(companyID string, storeID string) bool {
	switch c.Scope {
	case ScopePlatform:
		return true
	case ScopeCompany:
		return c.CompanyID == companyID
	case ScopeStore:
		return c.CompanyID == companyID && c.StoreID == storeID
	default:
		return false
	}
}

type StoreLookup interface {
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	GetCompany(ctx context.Context, id string) (*domain.Company, error)
}

// ResolveStore picks the effective store for a request. Store-scoped callers
// always get their own store whatever the request says.
func ResolveStore(ctx context.Context, caps Capabilities, requestedStoreID string, lookup StoreLookup) (*domain.Store, *domain.Company, error) {
	storeID := strings.TrimSpace(requestedStoreID)
	if caps.Scope == ScopeStore {
		storeID = caps.StoreID
	}
	if storeID == "" {
		return nil, nil, fmt.Errorf("%w: store_id is required", store.ErrInvalidTransaction)
	}

	st, err := lookup.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: store %s", store.ErrNotFound, storeID)
		}
		return nil, nil, err
	}
	if !caps.Covers(st.CompanyID, st.ID) {
		return nil, nil, fmt.Errorf("%w: store %s is outside your scope", store.ErrForbidden, st.ID)
	}
	if !st.Active {
		return nil, nil, fmt.Errorf("%w: store %s is inactive", store.ErrForbidden, st.ID)
	}

	company, err := lookup.GetCompany(ctx, st.CompanyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: company %s", store.ErrNotFound, st.CompanyID)
		}
		return nil, nil, err
	}
	if !company.Active {
		return nil, nil, fmt.Errorf("%w: company %s is inactive", store.ErrForbidden, company.ID)
	}
	return st, company, nil
}
