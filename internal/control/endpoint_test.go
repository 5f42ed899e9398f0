// SPDX-License-Identifier: MIT

package control

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseEndpointUnixSocket(t *testing.T) {
	network, address, err := ParseEndpoint("unix/:/tmp/svctl.sock")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if network != "unix" || address != "/tmp/svctl.sock" {
		t.Fatalf("expected unix /tmp/svctl.sock, got %s %s", network, address)
	}
}

func TestParseEndpointTCP(t *testing.T) {
	network, address, err := ParseEndpoint("127.0.0.1:9999")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if network != "tcp" || address != "127.0.0.1:9999" {
		t.Fatalf("expected tcp 127.0.0.1:9999, got %s %s", network, address)
	}
}

func TestListenRefusesExistingUnixSocketPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svctl.sock")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("seed existing path: %v", err)
	}

	if _, err := Listen("unix/:" + path); err == nil {
		t.Fatalf("expected bind to existing path to fail")
	}
}

func TestListenBindsFreshUnixSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svctl.sock")

	ln, err := Listen("unix/:" + path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if ln.Addr().Network() != "unix" {
		t.Fatalf("expected unix network, got %s", ln.Addr().Network())
	}
}
