package stock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/service/stock"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/memory"
)

func newLedger(t *testing.T, available int32) (*stock.Ledger, domain.StockRepository) {
	t.Helper()
	repo := memory.NewStockRepository()
	err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: available, Physical: available})
	if err != nil {
		t.Fatalf("upsert level failed: %v", err)
	}
	return stock.NewLedger(repo, nil), repo
}

func TestLedger_ReserveRelease(t *testing.T) {
	ledger, repo := newLedger(t, 10)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "variant-1", 3, "ORD-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.Qty != 3 {
		t.Fatalf("expected qty 3, got %d", res.Qty)
	}

	if err := ledger.Release(ctx, "ORD-1", "variant-1", "test"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if level.Available != 10 {
		t.Fatalf("expected available restored to 10, got %d", level.Available)
	}
}

func TestLedger_ReserveInvalidQty(t *testing.T) {
	ledger, _ := newLedger(t, 10)

	if _, err := ledger.Reserve(context.Background(), "variant-1", 0, "ORD-1"); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
}

func TestLedger_ReleaseMissingReservationIsSuccess(t *testing.T) {
	ledger, _ := newLedger(t, 10)

	if err := ledger.Release(context.Background(), "ORD-unknown", "variant-1", "test"); err != nil {
		t.Fatalf("release of absent reservation must succeed, got %v", err)
	}
}

func TestLedger_ReleaseAll(t *testing.T) {
	ledger, repo := newLedger(t, 10)
	if err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-2", Available: 5, Physical: 5}); err != nil {
		t.Fatalf("upsert level failed: %v", err)
	}
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "variant-1", 2, "ORD-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := ledger.Reserve(ctx, "variant-2", 1, "ORD-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := ledger.ReleaseAll(ctx, "ORD-1", "compensation"); err != nil {
		t.Fatalf("release all failed: %v", err)
	}

	for variantID, want := range map[string]int32{"variant-1": 10, "variant-2": 5} {
		level, err := repo.GetLevel(variantID)
		if err != nil {
			t.Fatalf("get level failed: %v", err)
		}
		if level.Available != want {
			t.Fatalf("expected %s available %d, got %d", variantID, want, level.Available)
		}
	}
}

func TestLedger_RestockAfterCommit(t *testing.T) {
	ledger, repo := newLedger(t, 10)
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "variant-1", 4, "ORD-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.Commit(ctx, "ORD-1"); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := ledger.Restock(ctx, "ORD-1", "order canceled"); err != nil {
		t.Fatalf("restock failed: %v", err)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if level.Available != 10 {
		t.Fatalf("expected available restored to 10, got %d", level.Available)
	}

	// Повторный restock ничего не добавляет.
	if err := ledger.Restock(ctx, "ORD-1", "order canceled"); err != nil {
		t.Fatalf("repeat restock failed: %v", err)
	}
	level, err = repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if level.Available != 10 {
		t.Fatalf("repeat restock must be a no-op, got %d", level.Available)
	}
}

func TestLedger_CommitStopsRelease(t *testing.T) {
	ledger, repo := newLedger(t, 10)
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "variant-1", 4, "ORD-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.Commit(ctx, "ORD-1"); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := ledger.ReleaseAll(ctx, "ORD-1", "late compensation"); err != nil {
		t.Fatalf("release all failed: %v", err)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if level.Available != 6 {
		t.Fatalf("committed stock must stay deducted, got available %d", level.Available)
	}
}
