package internal

import (
	"os"
	"os/exec"
)

// UnbreakDocker attaches the current dev container to a docker network the
// testcontainers also live on, so tests can reach the postgres and valkey
// containers they start. Outside a container it does nothing.
//
// The network defaults to "bridge" and can be changed with
// LINECAPTCHA_TEST_DOCKER_NETWORK.
func UnbreakDocker() {
	if _, err := os.Stat("/.dockerenv"); err != nil {
		return
	}

	network := os.Getenv("LINECAPTCHA_TEST_DOCKER_NETWORK")
	if network == "" {
		network = "bridge"
	}

	if hostname, err := os.Hostname(); err == nil {
		// Already being connected is the common failure; ignore it.
		_ = exec.Command("docker", "network", "connect", network, hostname).Run()
	}
}
