package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/memory"
)

func newShipment(id, orderNumber string) domain.Shipment {
	return domain.Shipment{
		ID:             id,
		ShipmentNumber: "SHP-20260830-" + id,
		OrderNumber:    orderNumber,
		CustomerID:     "customer-1",
		Status:         domain.ShipmentPending,
		Items: []domain.ShipmentItem{
			{VariantID: "variant-1", SKU: "sku-1", Name: "Sneaker 42", Qty: 1, UnitMinor: 100},
		},
	}
}

func TestShipmentRepository_CreateUniquePerOrder(t *testing.T) {
	repo := memory.NewShipmentRepository()
	if err := repo.Create(newShipment("1", "ORD-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Create(newShipment("2", "ORD-1")); !errors.Is(err, domain.ErrShipmentExists) {
		t.Fatalf("expected ErrShipmentExists, got %v", err)
	}

	s, err := repo.GetByOrder("ORD-1")
	if err != nil {
		t.Fatalf("get by order failed: %v", err)
	}
	if s.ID != "1" {
		t.Fatalf("expected shipment 1, got %s", s.ID)
	}
}

func TestShipmentRepository_ClaimOnce(t *testing.T) {
	repo := memory.NewShipmentRepository()
	if err := repo.Create(newShipment("1", "ORD-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now().UTC()
	claimed, err := repo.Claim("1", "shipper-1", now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = repo.Claim("1", "shipper-2", now)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if claimed {
		t.Fatal("second claim must lose, shipment already assigned")
	}

	s, err := repo.GetByOrder("ORD-1")
	if err != nil {
		t.Fatalf("get by order failed: %v", err)
	}
	if s.ShipperID != "shipper-1" {
		t.Fatalf("expected shipper-1, got %s", s.ShipperID)
	}
	if s.Status != domain.ShipmentAssigned {
		t.Fatalf("expected assigned status, got %s", s.Status)
	}
}

func TestShipmentRepository_UpdateStatusConditional(t *testing.T) {
	repo := memory.NewShipmentRepository()
	if err := repo.Create(newShipment("1", "ORD-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ok, err := repo.UpdateStatus("1", domain.ShipmentPending, domain.ShipmentCanceled, "compensation")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !ok {
		t.Fatal("expected pending->canceled to succeed")
	}

	ok, err = repo.UpdateStatus("1", domain.ShipmentPending, domain.ShipmentAssigned, "")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if ok {
		t.Fatal("update with stale from-status must report false")
	}
}

func TestShipmentRepository_ListByStatusOldestFirst(t *testing.T) {
	repo := memory.NewShipmentRepository()
	first := newShipment("1", "ORD-1")
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	second := newShipment("2", "ORD-2")

	if err := repo.Create(second); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	list, err := repo.ListByStatus(domain.ShipmentPending, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 shipments, got %d", len(list))
	}
	if list[0].ID != "1" {
		t.Fatalf("expected oldest shipment first, got %s", list[0].ID)
	}
}
