package postgres

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

func TestStockRepository_PostgresReserveReleaseCommit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	if err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: 10, Physical: 10}); err != nil {
		t.Fatalf("upsert level: %v", err)
	}

	res, err := repo.ReserveStock("variant-1", 4, "ORD-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Qty != 4 || res.State != domain.ReservationReserved {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	// Повтор с тем же ключом не удерживает остаток второй раз.
	again, err := repo.ReserveStock("variant-1", 4, "ORD-1")
	if err != nil {
		t.Fatalf("repeat reserve: %v", err)
	}
	if again.Qty != 4 {
		t.Fatalf("unexpected repeat reservation qty: %d", again.Qty)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 6 {
		t.Fatalf("available = %d, want 6", level.Available)
	}

	if _, err := repo.ReserveStock("variant-1", 7, "ORD-2"); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := repo.ReserveStock("missing-variant", 1, "ORD-3"); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}

	qty, err := repo.ReleaseReservation("ORD-1", "variant-1", "placement failed")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if qty != 4 {
		t.Fatalf("released qty = %d, want 4", qty)
	}

	level, _ = repo.GetLevel("variant-1")
	if level.Available != 10 {
		t.Fatalf("available after release = %d, want 10", level.Available)
	}

	// Повторный release — no-op с нулевым количеством.
	qty, err = repo.ReleaseReservation("ORD-1", "variant-1", "again")
	if err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if qty != 0 {
		t.Fatalf("repeat released qty = %d, want 0", qty)
	}
}

func TestStockRepository_PostgresRestockCommitted(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	if err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: 5, Physical: 5}); err != nil {
		t.Fatalf("upsert level: %v", err)
	}
	if _, err := repo.ReserveStock("variant-1", 3, "ORD-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	committed, err := repo.CommitReservations("ORD-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed != 1 {
		t.Fatalf("committed = %d, want 1", committed)
	}

	// Committed-резерв уже не снимается обычным release.
	qty, err := repo.ReleaseReservation("ORD-1", "variant-1", "late release")
	if err != nil {
		t.Fatalf("release after commit: %v", err)
	}
	if qty != 0 {
		t.Fatalf("release after commit qty = %d, want 0", qty)
	}

	restocked, err := repo.RestockCommitted("ORD-1", "order canceled")
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if restocked != 1 {
		t.Fatalf("restocked = %d, want 1", restocked)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 5 {
		t.Fatalf("available after restock = %d, want 5", level.Available)
	}

	// Повторный restock ничего не находит.
	restocked, err = repo.RestockCommitted("ORD-1", "again")
	if err != nil {
		t.Fatalf("repeat restock: %v", err)
	}
	if restocked != 0 {
		t.Fatalf("repeat restocked = %d, want 0", restocked)
	}
}

func TestStockRepository_PostgresConcurrentReserveNeverOversells(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	if err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: 5, Physical: 5}); err != nil {
		t.Fatalf("upsert level: %v", err)
	}

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := repo.ReserveStock("variant-1", 1, orderNumberForWorker(n))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("succeeded reserves = %d, want 5", succeeded)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 0 {
		t.Fatalf("available = %d, want 0", level.Available)
	}
}

func orderNumberForWorker(n int) string {
	return fmt.Sprintf("ORD-CONC-%d", n)
}

func TestStockRepository_PostgresConcurrentSameKeyReserveIsIdempotent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	if err := repo.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: 10, Physical: 10}); err != nil {
		t.Fatalf("upsert level: %v", err)
	}

	// Конкурирующие повторы с одним ключом (variant, order): все получают
	// один и тот же резерв, остаток удерживается один раз.
	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.ReserveStock("variant-1", 3, "ORD-1")
			if err != nil {
				errs <- err
				return
			}
			if res.Qty != 3 {
				errs <- fmt.Errorf("reservation qty = %d, want 3", res.Qty)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("duplicate reserve must succeed: %v", err)
	}

	level, err := repo.GetLevel("variant-1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 7 {
		t.Fatalf("available = %d, want 7", level.Available)
	}
}
