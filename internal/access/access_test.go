package access

import (
	"context"
	"errors"
	"testing"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

type lookupStub struct {
	stores    map[string]domain.Store
	companies map[string]domain.Company
}

func (l lookupStub) GetStore(_ context.Context, id string) (*domain.Store, error) {
	st, ok := l.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (l lookupStub) GetCompany(_ context.Context, id string) (*domain.Company, error) {
	c, ok := l.companies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func newLookup() lookupStub {
	return lookupStub{
		stores: map[string]domain.Store{
			"a1":   {ID: "a1", CompanyID: "a", Active: true},
			"a2":   {ID: "a2", CompanyID: "a", Active: true},
			"aOff": {ID: "aOff", CompanyID: "a", Active: false},
			"b1":   {ID: "b1", CompanyID: "b", Active: true},
		},
		companies: map[string]domain.Company{
			"a": {ID: "a", Active: true},
			"b": {ID: "b", Active: true},
		},
	}
}

func mustResolve(t *testing.T, actor domain.Actor) Capabilities {
	t.Helper()
	caps, err := Resolve(actor)
	if err != nil {
		t.Fatalf("resolve %s: %v", actor.Role, err)
	}
	return caps
}

func TestResolveRoleTable(t *testing.T) {
	cases := []struct {
		actor                  domain.Actor
		scope                  Scope
		create, cancel, adjust bool
	}{
		{domain.Actor{Role: domain.RoleOwner}, ScopePlatform, true, true, true},
		{domain.Actor{Role: domain.RoleCompanyAdmin, CompanyID: "a"}, ScopeCompany, true, true, true},
		{domain.Actor{Role: domain.RoleStoreManager, CompanyID: "a", StoreID: "a1"}, ScopeStore, true, true, true},
		{domain.Actor{Role: domain.RoleEmployee, CompanyID: "a", StoreID: "a1"}, ScopeStore, true, false, false},
		{domain.Actor{Role: domain.RoleAccountant, CompanyID: "a"}, ScopeCompany, false, false, false},
	}
	for _, tc := range cases {
		caps := mustResolve(t, tc.actor)
		if caps.Scope != tc.scope || caps.CanCreateSale != tc.create || caps.CanCancelSale != tc.cancel || caps.CanAdjustStock != tc.adjust {
			t.Fatalf("unexpected capabilities for %s: %+v", tc.actor.Role, caps)
		}
		if !caps.CanViewSales {
			t.Fatalf("expected %s to view sales", tc.actor.Role)
		}
	}
}

func TestResolveRejectsUnknownOrUnassignedRoles(t *testing.T) {
	for _, actor := range []domain.Actor{
		{Role: "janitor"},
		{Role: domain.RoleEmployee, CompanyID: "a"},
		{Role: domain.RoleCompanyAdmin},
	} {
		if _, err := Resolve(actor); !errors.Is(err, store.ErrForbidden) {
			t.Fatalf("expected forbidden for %+v, got %v", actor, err)
		}
	}
}

func TestStoreScopedCallerIsForcedToOwnStore(t *testing.T) {
	caps := mustResolve(t, domain.Actor{Role: domain.RoleEmployee, CompanyID: "a", StoreID: "a1"})
	st, company, err := ResolveStore(context.Background(), caps, "b1", newLookup())
	if err != nil {
		t.Fatalf("resolve store: %v", err)
	}
	if st.ID != "a1" || company.ID != "a" {
		t.Fatalf("expected own store a1, got %s/%s", company.ID, st.ID)
	}
}

func TestCompanyScopedCallerPicksWithinCompany(t *testing.T) {
	caps := mustResolve(t, domain.Actor{Role: domain.RoleCompanyAdmin, CompanyID: "a"})
	lookup := newLookup()

	st, _, err := ResolveStore(context.Background(), caps, "a2", lookup)
	if err != nil || st.ID != "a2" {
		t.Fatalf("expected a2, got %v / %v", st, err)
	}
	if _, _, err := ResolveStore(context.Background(), caps, "b1", lookup); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for other company store, got %v", err)
	}
	if _, _, err := ResolveStore(context.Background(), caps, "", lookup); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected validation error without store, got %v", err)
	}
}

func TestPlatformCallerNeedsActiveStore(t *testing.T) {
	caps := mustResolve(t, domain.Actor{Role: domain.RoleOwner})
	lookup := newLookup()

	if st, _, err := ResolveStore(context.Background(), caps, "b1", lookup); err != nil || st.ID != "b1" {
		t.Fatalf("expected b1, got %v / %v", st, err)
	}
	if _, _, err := ResolveStore(context.Background(), caps, "aOff", lookup); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for inactive store, got %v", err)
	}
	if _, _, err := ResolveStore(context.Background(), caps, "nope", lookup); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCovers(t *testing.T) {
	manager := mustResolve(t, domain.Actor{Role: domain.RoleStoreManager, CompanyID: "a", StoreID: "a1"})
	if !manager.Covers("a", "a1") || manager.Covers("a", "a2") {
		t.Fatalf("unexpected store-scope coverage")
	}
	accountant := mustResolve(t, domain.Actor{Role: domain.RoleAccountant, CompanyID: "a"})
	if !accountant.Covers("a", "a2") || accountant.Covers("b", "b1") {
		t.Fatalf("unexpected company-scope coverage")
	}
}
