package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidStockOperation   = errors.New("invalid stock operation")
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
	// SaleStatusRefunded is declared for stored data but nothing moves a sale into it yet.
	SaleStatusRefunded SaleStatus = "refunded"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusPending:   {SaleStatusCompleted, SaleStatusCancelled},
	SaleStatusCompleted: {SaleStatusCancelled},
	SaleStatusCancelled: {},
	SaleStatusRefunded:  {},
}

func (s SaleStatus) Valid() bool {
	_, ok := saleTransitions[s]
	return ok
}

// InitialSaleStatus picks the entry state from the payment status declared at checkout.
func InitialSaleStatus(paymentStatus string) SaleStatus {
	if paymentStatus == PaymentStatusPending {
		return SaleStatusPending
	}
	return SaleStatusCompleted
}

func (s *Sale) CanTransitionTo(next SaleStatus) bool {
	for _, allowed := range saleTransitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cancel moves the sale to cancelled and appends the reason to its notes.
// Stock restoration is the caller's job.
func (s *Sale) Cancel(reason string, at time.Time) error {
	if !s.CanTransitionTo(SaleStatusCancelled) {
		return fmt.Errorf("%w: sale %s is %s", ErrInvalidStatusTransition, s.Number, s.Status)
	}
	s.Status = SaleStatusCancelled
	s.AppendNote(CancellationNote(reason))
	s.CancelledAt = &at
	s.UpdatedAt = at
	return nil
}

// AppendNote never rewrites existing notes.
func (s *Sale) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if s.Notes == "" {
		s.Notes = note
		return
	}
	s.Notes = s.Notes + "\n" + note
}

func CancellationNote(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "Cancelled"
	}
	return "Cancelled: " + reason
}

// StockLines sums quantities per catalog item, keeping first-seen order.
func (s *Sale) StockLines() []StockLine {
	return MergeStockLines(s.lines())
}

func (s *Sale) lines() []StockLine {
	lines := make([]StockLine, 0, len(s.Items))
	for _, item := range s.Items {
		lines = append(lines, StockLine{ItemID: item.CatalogItemID, Quantity: item.Quantity})
	}
	return lines
}

func MergeStockLines(lines []StockLine) []StockLine {
	index := make(map[string]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if line.ItemID == "" || line.Quantity == 0 {
			continue
		}
		if i, ok := index[line.ItemID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

// ApplyStockOperation returns the stock level after a manual adjustment.
// Results below zero are floored unless allowNegative is set.
func ApplyStockOperation(current int, op StockOperation, qty int, allowNegative bool) (int, error) {
	if qty < 0 {
		return current, fmt.Errorf("%w: quantity must not be negative", ErrInvalidStockOperation)
	}

	var next int
	switch op {
	case StockAdd:
		next = current + qty
	case StockSubtract:
		next = current - qty
	case StockSet:
		next = qty
	default:
		return current, fmt.Errorf("%w: %q", ErrInvalidStockOperation, op)
	}
	if next < 0 && !allowNegative {
		next = 0
	}
	return next, nil
}
