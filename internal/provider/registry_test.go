package provider

import (
	"context"
	"errors"
	"testing"
)

// stubBackend is a minimal Backend for registry tests.
type stubBackend struct {
	name string
}

func (s *stubBackend) Create(context.Context, CreateRequest) (*CreatedInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) GetInfo(context.Context, string) (*Info, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) Delete(context.Context, string) (*DeletedInfo, error) {
	return nil, errors.New("not implemented")
}

func stubFactory(name string) Factory {
	return func(_ map[string]any) (Backend, error) {
		return &stubBackend{name: name}, nil
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("ghost", nil)
	if err == nil {
		t.Fatal("Resolve(ghost) on empty registry: expected error, got nil")
	}
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Resolve(ghost) error = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistryRegisterThenResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("ghost", stubFactory("ghost"))

	b, err := r.Resolve("ghost", nil)
	if err != nil {
		t.Fatalf("Resolve(ghost) after Register: %v", err)
	}
	sb, ok := b.(*stubBackend)
	if !ok || sb.name != "ghost" {
		t.Errorf("Resolve(ghost) = %#v, want stubBackend produced by registered factory", b)
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", stubFactory("first"))
	r.Register("dup", stubFactory("second"))

	b, err := r.Resolve("dup", nil)
	if err != nil {
		t.Fatalf("Resolve(dup): %v", err)
	}
	if b.(*stubBackend).name != "second" {
		t.Errorf("Resolve(dup) returned %q, want the replacement factory's backend", b.(*stubBackend).name)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("gone", stubFactory("gone"))
	r.Remove("gone")

	if r.Has("gone") {
		t.Error("Has(gone) = true after Remove")
	}
	// Removing an absent key is a no-op.
	r.Remove("never-there")
}

func TestRegistryKeys(t *testing.T) {
	r := NewRegistry()
	r.Register("a", stubFactory("a"))
	r.Register("b", stubFactory("b"))

	if got := len(r.Keys()); got != 2 {
		t.Errorf("Keys() len = %d, want 2", got)
	}
}

func TestRegistrySwapRestores(t *testing.T) {
	r := NewRegistry()
	r.Register("real", stubFactory("real"))

	restore := r.Swap("real", stubFactory("fake"))
	b, _ := r.Resolve("real", nil)
	if b.(*stubBackend).name != "fake" {
		t.Fatalf("after Swap, Resolve returned %q, want fake", b.(*stubBackend).name)
	}

	restore()
	b, _ = r.Resolve("real", nil)
	if b.(*stubBackend).name != "real" {
		t.Errorf("after restore, Resolve returned %q, want real", b.(*stubBackend).name)
	}
}

func TestRegistrySwapRestoresAbsentKey(t *testing.T) {
	r := NewRegistry()

	restore := r.Swap("ephemeral", stubFactory("fake"))
	if !r.Has("ephemeral") {
		t.Fatal("Has(ephemeral) = false after Swap")
	}
	restore()
	if r.Has("ephemeral") {
		t.Error("Has(ephemeral) = true after restore, want key removed")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("bad params")
	r.Register("broken", func(_ map[string]any) (Backend, error) {
		return nil, boom
	})

	_, err := r.Resolve("broken", nil)
	if !errors.Is(err, boom) {
		t.Errorf("Resolve(broken) error = %v, want factory error", err)
	}
}
