// SPDX-License-Identifier: MIT

// Package control implements the supervisor's line-based control
// protocol: endpoint parsing, the listener/session lifecycle, and the
// verb dispatch table, per SPEC_FULL §4.3.
package control

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ParseEndpoint resolves a GlobalConfig.Listen value into a network and
// address pair for net.Listen, per spec §4.3's "unix/:<path>" / "<ip>:<port>"
// syntax.
func ParseEndpoint(listen string) (network, address string, err error) {
	if rest, ok := strings.CutPrefix(listen, "unix/:"); ok {
		return "unix", rest, nil
	}
	if rest, ok := strings.CutPrefix(listen, "unix:"); ok {
		return "unix", rest, nil
	}
	if listen == "" {
		return "", "", fmt.Errorf("empty listen endpoint")
	}
	return "tcp", listen, nil
}

// Listen binds the control socket. For a Unix socket whose path already
// exists, binding is refused as a fatal configuration error per spec
// §4.3 rather than silently unlinking and rebinding — an operator
// running two supervisors against the same socket path should see an
// error, not have one instance steal the path from the other.
func Listen(endpoint string) (net.Listener, error) {
	network, address, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	if network == "unix" {
		if _, statErr := os.Stat(address); statErr == nil {
			return nil, fmt.Errorf("control socket path %q already exists", address)
		}
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind control endpoint %q: %w", endpoint, err)
	}
	return ln, nil
}
