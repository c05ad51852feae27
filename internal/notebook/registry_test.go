package notebook

import (
	"testing"
	"time"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	deps := testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{})

	id, nb := reg.Create("alpha", "", deps)
	if nb == nil || id == "" {
		t.Fatal("Create returned empty id or nil notebook")
	}

	got, err := reg.Get(id)
	if err != nil || got != nb {
		t.Fatalf("Get(%s) = %v, %v", id, got, err)
	}

	if _, err := reg.Get("missing"); err == nil {
		t.Fatal("Get on unknown id should fail")
	}

	if ids := reg.IDs(); len(ids) != 1 || ids[0] != id {
		t.Fatalf("IDs() = %v, want [%s]", ids, id)
	}
}

// A job holding the state lock must not block notebook registration,
// which the load path performs from inside such a job.
func TestRegistryPutWhileStateLockHeld(t *testing.T) {
	reg := NewRegistry()
	deps := testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{})

	reg.StateLock().Lock()
	defer reg.StateLock().Unlock()

	done := make(chan struct{})
	go func() {
		reg.Put("loaded", New("loaded", "", deps))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registration blocked behind the state lock")
	}

	if _, err := reg.Get("loaded"); err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
}
