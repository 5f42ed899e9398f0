// SPDX-License-Identifier: MIT

// svctl-client is a thin CLI that dials a running svctl daemon's control
// socket, writes one line built from argv, prints the reply, and exits.
// It shares the same unix/:<path> or host:port endpoint grammar the
// listener itself parses (internal/control.ParseEndpoint), so anywhere
// the daemon can bind, this client can reach it.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/svctl/internal/config"
	"github.com/tomtom215/svctl/internal/control"
)

const dialTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses -config/-listen overrides, resolves the endpoint, sends
// the remaining arguments as one command line, and prints the reply.
func run(args []string) error {
	listen, rest, err := resolveEndpoint(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("usage: svctl-client [-config PATH | -listen ENDPOINT] VERB [SERVICE]")
	}

	line := strings.Join(rest, " ")

	resp, err := send(listen, line)
	if err != nil {
		return err
	}
	fmt.Print(resp)
	return nil
}

// resolveEndpoint pulls -config/-listen flags out of args (in any
// position before the verb), returning the resolved listen endpoint
// and the remaining positional arguments.
func resolveEndpoint(args []string) (listen string, rest []string, err error) {
	configPath := config.DefaultConfigPath
	explicitListen := ""

	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "-config="), strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(strings.TrimPrefix(args[i], "--config="), "-config=")
		case (args[i] == "-config" || args[i] == "--config") && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-listen="), strings.HasPrefix(args[i], "--listen="):
			explicitListen = strings.TrimPrefix(strings.TrimPrefix(args[i], "--listen="), "-listen=")
		case (args[i] == "-listen" || args[i] == "--listen") && i+1 < len(args):
			explicitListen = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}

	if explicitListen != "" {
		return explicitListen, rest, nil
	}

	cfg, _, err := config.Load(configPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config %q (pass -listen to bypass): %w", configPath, err)
	}
	return cfg.Global.Listen, rest, nil
}

// send dials listen, writes line, and reads the reply until the
// daemon closes the connection or the idle timeout fires.
func send(listen, line string) (string, error) {
	network, address, err := control.ParseEndpoint(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen endpoint %q: %w", listen, err)
	}

	conn, err := net.DialTimeout(network, address, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", listen, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	return sb.String(), nil
}
