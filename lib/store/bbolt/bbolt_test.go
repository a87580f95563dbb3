package bbolt

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
	"github.com/TecharoHQ/linecaptcha/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	data, err := json.Marshal(Config{Path: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(data))
}

func TestSweep(t *testing.T) {
	s, err := open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.bdb.Close() })

	ctx := t.Context()

	if err := s.Set(ctx, "challenge:old", []byte(`{}`), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "challenge:new", []byte(`{}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	n, err := s.sweep(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d values, want 1", n)
	}

	if err := s.Delete(ctx, "challenge:old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("swept value still present: %v", err)
	}
	if _, err := s.Get(ctx, "challenge:new"); err != nil {
		t.Errorf("live value was swept: %v", err)
	}
}
