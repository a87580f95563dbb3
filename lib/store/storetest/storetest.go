package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); err == nil {
					t.Errorf("key %q does not exist and Delete did not return non-nil", t.Name())
				}

				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				//nosleep:bypass XXX(Xe): use Go's time faking thing in Go 1.25 when that is released.
				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				return nil
			},
		},
		{
			name: "update missing key",
			doer: func(t *testing.T, s store.Interface) error {
				return s.Update(t.Context(), t.Name(), func(b []byte) ([]byte, error) {
					t.Error("update callback called for a key that does not exist")
					return b, nil
				})
			},
			err: store.ErrNotFound,
		},
		{
			name: "update callback error keeps value",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("before"), 5*time.Minute); err != nil {
					return err
				}

				errStop := errors.New("stop")
				if err := s.Update(t.Context(), t.Name(), func([]byte) ([]byte, error) {
					return []byte("after"), errStop
				}); !errors.Is(err, errStop) {
					t.Errorf("wanted callback error to pass through, got: %v", err)
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if string(val) != "before" {
					t.Errorf("value changed after failed update: %q", string(val))
				}

				return nil
			},
		},
		{
			name: "concurrent updates are atomic",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("0"), 5*time.Minute); err != nil {
					return err
				}

				const workers = 16
				var wg sync.WaitGroup
				errs := make(chan error, workers)

				for range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- s.Update(t.Context(), t.Name(), func(b []byte) ([]byte, error) {
							n, err := strconv.Atoi(string(b))
							if err != nil {
								return nil, err
							}
							return []byte(strconv.Itoa(n + 1)), nil
						})
					}()
				}

				wg.Wait()
				close(errs)

				succeeded := 0
				for err := range errs {
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, store.ErrConflict):
					default:
						return err
					}
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if want := strconv.Itoa(succeeded); string(val) != want {
					t.Errorf("lost update: wanted %s, got %s", want, string(val))
				}

				return nil
			},
		},
		{
			name: "update keeps expiry",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("a"), 150*time.Millisecond); err != nil {
					return err
				}

				if err := s.Update(t.Context(), t.Name(), func([]byte) ([]byte, error) {
					return []byte("b"), nil
				}); err != nil {
					return err
				}

				//nosleep:bypass XXX(Xe): use Go's time faking thing in Go 1.25 when that is released.
				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to expire after update but it exists anyways", t.Name())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
