package salenumber

import (
	"context"
	"fmt"
	"log"
	"time"

	"retailcore/backend/internal/xid"
)

// Counter returns the advisory same-day sequence for a company. It is for
// humans reading receipts; uniqueness comes from the random suffix.
type Counter interface {
	Next(ctx context.Context, companyID string, day time.Time) (int64, error)
}

type DayCounter interface {
	CountSalesForDay(ctx context.Context, companyID string, day time.Time) (int, error)
}

// StoreCounter counts the company's sales for the day and adds one.
type StoreCounter struct {
	Sales DayCounter
}

func (c StoreCounter) Next(ctx context.Context, companyID string, day time.Time) (int64, error) {
	count, err := c.Sales.CountSalesForDay(ctx, companyID, day)
	if err != nil {
		return 0, err
	}
	return int64(count) + 1, nil
}

type Generator struct {
	counter Counter
	suffix  func() string
}

func New(counter Counter) *Generator {
	return &Generator{counter: counter, suffix: xid.Short}
}

// Next never fails: a counter error only costs the readable sequence.
func (g *Generator) Next(ctx context.Context, companyID string, at time.Time) string {
	day := at.UTC()
	var seq int64
	if g.counter != nil {
		n, err := g.counter.Next(ctx, companyID, day)
		if err != nil {
			log.Printf("[salenumber] WARN: sequence unavailable company=%s: %v", companyID, err)
		} else {
			seq = n
		}
	}
	return Format(day, seq, g.suffix())
}

func Format(day time.Time, seq int64, suffix string) string {
	return fmt.Sprintf("SALE-%s-%04d-%s", day.UTC().Format("20060102"), seq, suffix)
}
