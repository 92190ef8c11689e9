package proxy

import "testing"

func fakeInstance(addr string) *Instance {
	return &Instance{Addr: addr, PoolSize: 1}
}

func TestSlotTableSetTracksSlotsNum(t *testing.T) {
	table := NewSlotTable()
	a := fakeInstance("a:1")
	b := fakeInstance("b:1")

	table.Set(5, a)
	table.Set(6, a)
	if a.SlotsNum() != 2 {
		t.Fatalf("expected a to own 2 slots, got %d", a.SlotsNum())
	}

	table.Set(5, b)
	if a.SlotsNum() != 1 {
		t.Fatalf("expected a to own 1 slot after reassignment, got %d", a.SlotsNum())
	}
	if b.SlotsNum() != 1 {
		t.Fatalf("expected b to own 1 slot, got %d", b.SlotsNum())
	}
	if table.Get(5) != b {
		t.Fatalf("slot 5 should now be owned by b")
	}
}

func TestSlotTableSetRange(t *testing.T) {
	table := NewSlotTable()
	a := fakeInstance("a:1")
	table.SetRange(100, 200, a)
	if a.SlotsNum() != 101 {
		t.Fatalf("expected 101 slots, got %d", a.SlotsNum())
	}
	if table.Get(100) != a || table.Get(200) != a {
		t.Fatalf("range boundaries not assigned to a")
	}
	if table.Get(201) == a {
		t.Fatalf("slot past the range must not be assigned")
	}
}

func TestSlotTableBootstrapCoversEverySlot(t *testing.T) {
	table := NewSlotTable()
	a := fakeInstance("a:1")
	table.Bootstrap([]*Instance{a})
	for _, s := range []int{0, 1, slotCount / 2, slotCount - 1} {
		if table.Get(s) != a {
			t.Fatalf("slot %d not bootstrapped to the sole instance", s)
		}
	}
	if a.SlotsNum() != slotCount {
		t.Fatalf("expected all %d slots assigned, got %d", slotCount, a.SlotsNum())
	}
}

func TestSlotTableOwners(t *testing.T) {
	table := NewSlotTable()
	a := fakeInstance("a:1")
	b := fakeInstance("b:1")
	table.Set(1, a)
	table.Set(2, a)
	table.Set(3, b)

	owners := table.Owners()
	if len(owners) != 2 {
		t.Fatalf("expected 2 distinct owners, got %d", len(owners))
	}
}
