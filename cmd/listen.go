//go:build !tsnet

package cmd

import (
	"net"

	"github.com/nextlevelbuilder/opengoat/internal/config"
)

// listen binds a plain TCP listener. The tsnet variant (build tag "tsnet")
// serves the same mux over a tailnet instead.
func listen(cfg config.Config, addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	return ln, ln.Addr().String(), nil
}
