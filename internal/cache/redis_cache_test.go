package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestSaleSequenceKeyIsPerCompanyPerDay(t *testing.T) {
	day := time.Date(2026, 10, 19, 22, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	if got := SaleSequenceKey("acme", day); got != "salenum:acme:20261019" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestRedisSaleSequenceIncrements(t *testing.T) {
	addr := os.Getenv("RETAILCORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RETAILCORE_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	seq := NewRedisSaleSequence(addr, "", 0)
	t.Cleanup(func() {
		_ = seq.Close()
	})
	if err := seq.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	company := "it-" + time.Now().Format("150405.000000")
	day := time.Now().UTC()
	first, err := seq.Next(ctx, company, day)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := seq.Next(ctx, company, day)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected consecutive sequence, got %d then %d", first, second)
	}
}
