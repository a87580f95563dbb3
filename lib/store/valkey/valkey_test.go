package valkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/TecharoHQ/linecaptcha/internal"
	"github.com/TecharoHQ/linecaptcha/lib/store"
	"github.com/TecharoHQ/linecaptcha/lib/store/storetest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func init() {
	internal.UnbreakDocker()
}

func TestFactoryValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  string
		err  error
	}{
		{"unparseable", `{`, store.ErrBadConfig},
		{"no url", `{}`, ErrNoURL},
		{"bad scheme", `{"url": "http://valkey:6379"}`, ErrBadURL},
		{"valid", `{"url": "redis://valkey:6379/0"}`, nil},
		{"valid with prefix", `{"url": "rediss://valkey:6380/2", "keyPrefix": "linecaptcha:"}`, nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := Factory{}.Valid(json.RawMessage(tt.cfg))
			if !errors.Is(err, tt.err) {
				t.Errorf("Valid(%s) = %v, want %v", tt.cfg, err, tt.err)
			}
		})
	}
}

func TestImpl(t *testing.T) {
	if os.Getenv("DONT_USE_NETWORK") != "" {
		t.Skip("test requires network egress")
		return
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	valkeyC, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "valkey/valkey:8",
			WaitingFor: wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, valkeyC)
	if err != nil {
		t.Fatal(err)
	}

	containerIP, err := valkeyC.ContainerIP(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	for _, prefix := range []string{"", "linecaptcha:"} {
		t.Run(fmt.Sprintf("prefix=%q", prefix), func(t *testing.T) {
			data, err := json.Marshal(Config{
				URL:       fmt.Sprintf("redis://%s:6379/0", containerIP),
				KeyPrefix: prefix,
			})
			if err != nil {
				t.Fatal(err)
			}

			storetest.Common(t, Factory{}, json.RawMessage(data))
		})
	}
}
