package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backend/internal/access"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/salenumber"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const defaultSaleTimeout = 10 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	numbers     *salenumber.Generator
	saleTimeout time.Duration
	now         func() time.Time
}

// New falls back to store-counted sale sequences when numbers is nil.
func New(repo store.Repository, numbers *salenumber.Generator, saleTimeout time.Duration) *Service {
	if numbers == nil {
		numbers = salenumber.New(salenumber.StoreCounter{Sales: repo})
	}
	if saleTimeout <= 0 {
		saleTimeout = defaultSaleTimeout
	}

	return &Service{
		repo:        repo,
		numbers:     numbers,
		saleTimeout: saleTimeout,
		now:         time.Now,
	}
}

func (s *Service) capabilities(ctx context.Context) (access.Capabilities, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return access.Capabilities{}, fmt.Errorf("%w: authenticated actor required", store.ErrForbidden)
	}
	return access.Resolve(actor)
}

// visibleStore is the read-side store resolution: inactive stores stay visible.
func (s *Service) visibleStore(ctx context.Context, caps access.Capabilities, storeID string) (*domain.Store, error) {
	storeID = strings.TrimSpace(storeID)
	if caps.Scope == access.ScopeStore {
		storeID = caps.StoreID
	}
	if storeID == "" {
		return nil, fmt.Errorf("%w: store_id is required", store.ErrInvalidTransaction)
	}

	st, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !caps.Covers(st.CompanyID, st.ID) {
		return nil, fmt.Errorf("%w: store %s is outside your scope", store.ErrForbidden, st.ID)
	}
	return st, nil
}

func (s *Service) refreshStoreStats(ctx context.Context, storeID string, saleDelta int64, revenueDelta decimal.Decimal) {
	if err := s.repo.IncrementStoreStats(ctx, storeID, saleDelta, revenueDelta); err != nil {
		log.Printf("[service] WARN: failed to refresh store stats store=%s: %v", storeID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "transfer", "qris", "ewallet", "credit":
		return true
	default:
		return false
	}
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
