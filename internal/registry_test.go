package internal

import (
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	var r Registry[int]

	if _, ok := r.Get("memory"); ok {
		t.Fatal("empty registry returned a factory")
	}
	if got := r.Methods(); len(got) != 0 {
		t.Fatalf("empty registry has methods: %v", got)
	}

	r.Register("valkey", 2)
	r.Register("memory", 1)
	r.Register("bbolt", 3)

	if got, ok := r.Get("memory"); !ok || got != 1 {
		t.Errorf("Get(memory) = %d, %v", got, ok)
	}

	want := []string{"bbolt", "memory", "valkey"}
	if got := r.Methods(); !slices.Equal(got, want) {
		t.Errorf("Methods() = %v, want %v", got, want)
	}
}
