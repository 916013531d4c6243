package postgres

import (
	"testing"

	"retailcore/backend/internal/domain"
)

func TestSortedByItemOrdersLinesWithoutMutatingInput(t *testing.T) {
	lines := []domain.StockLine{
		{ItemID: "item_c", Quantity: 1},
		{ItemID: "item_a", Quantity: 2},
		{ItemID: "item_b", Quantity: 3},
	}

	ordered := sortedByItem(lines)
	want := []string{"item_a", "item_b", "item_c"}
	for i, id := range want {
		if ordered[i].ItemID != id {
			t.Fatalf("expected %s at position %d, got %s", id, i, ordered[i].ItemID)
		}
	}
	if lines[0].ItemID != "item_c" {
		t.Fatalf("expected input order untouched, got %s first", lines[0].ItemID)
	}
}
