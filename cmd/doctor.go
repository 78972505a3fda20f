package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/authz"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

const doctorDialTimeout = 3 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("opengoat doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Home
	layout, err := paths.Resolve(homeFlag)
	if err != nil {
		fmt.Printf("  Home:     RESOLVE FAILED (%s)\n", err)
		return
	}
	fmt.Printf("  Home:     %s", layout.Home)
	if _, err := os.Stat(layout.Home); err != nil {
		fmt.Println(" (NOT FOUND — run: opengoat onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	// Config
	cfgPath := layout.GlobalConfigJSONPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Print(" (MISSING — defaults apply)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf(" (LOAD FAILED: %s)\n", err)
		return
	}
	fmt.Println(" (OK)")

	// Task store — opening runs the migrations.
	fmt.Printf("  Tasks:    %s", layout.TasksDBPath())
	agentStore := openAgents(layout, *cfg)
	if store, err := tasks.Open(layout.TasksDBPath(), authz.NewResolver(agentStore)); err != nil {
		fmt.Printf(" (OPEN FAILED: %s)\n", err)
	} else {
		store.Close()
		fmt.Println(" (OK)")
	}

	// Provider binary
	command := cfg.Providers.Command
	if command == "" {
		command = "openclaw"
	}
	fmt.Printf("  Provider: %s", command)
	if path, err := exec.LookPath(command); err != nil {
		fmt.Println(" (NOT ON PATH — CLI invocations will fall back to the gateway)")
	} else {
		fmt.Printf(" (OK: %s)\n", path)
	}

	// Gateway socket
	gatewayURL := cfg.Gateway.URL
	if gatewayURL == "" {
		gatewayURL = "ws://127.0.0.1:18790/ws"
	}
	fmt.Printf("  Gateway:  %s", gatewayURL)
	dialer := websocket.Dialer{HandshakeTimeout: doctorDialTimeout}
	conn, _, err := dialer.Dial(gatewayURL, nil)
	if err != nil {
		fmt.Printf(" (UNREACHABLE: %s)\n", err)
	} else {
		conn.Close()
		fmt.Println(" (OK)")
	}
}
