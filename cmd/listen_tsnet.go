//go:build tsnet

package cmd

import (
	"fmt"
	"net"
	"strings"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/opengoat/internal/config"
)

// listen exposes the control plane on a tailnet via tsnet. The auth key
// comes from env OPENGOAT_TSNET_AUTH_KEY; it is never persisted.
func listen(cfg config.Config, addr string) (net.Listener, string, error) {
	hostname := cfg.Tailscale.Hostname
	if hostname == "" {
		hostname = "opengoat"
	}

	srv := &tsnet.Server{
		Hostname:  hostname,
		Dir:       cfg.Tailscale.StateDir,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}

	// Keep the configured port, swap the host for the tailnet interface.
	port := "4628"
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		port = addr[i+1:]
	}
	ln, err := srv.Listen("tcp", ":"+port)
	if err != nil {
		return nil, "", err
	}
	return ln, fmt.Sprintf("tsnet://%s:%s", hostname, port), nil
}
