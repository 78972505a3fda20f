package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/auth"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

func onboardCmd() *cobra.Command {
	var nonInteractive bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Set up the home directory and initial configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(nonInteractive)
		},
	}
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "take answers from env instead of prompting")
	return cmd
}

// onboardAnswers collects the wizard's output before anything is written.
type onboardAnswers struct {
	home         string
	agentName    string
	cronEnabled  bool
	authEnabled  bool
	authUsername string
	authPassword string
}

func runOnboard(nonInteractive bool) error {
	layout, err := paths.Resolve(homeFlag)
	if err != nil {
		return configError{err}
	}

	answers := onboardAnswers{
		home:         layout.Home,
		agentName:    "ceo",
		authUsername: "admin",
	}

	if nonInteractive || os.Getenv("OPENGOAT_ONBOARD_NONINTERACTIVE") == "1" {
		applyOnboardEnv(&answers)
	} else if err := runOnboardForm(&answers); err != nil {
		return err
	}

	return applyOnboard(answers)
}

func runOnboardForm(a *onboardAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Home directory").
				Description("All agents, sessions and tasks live here.").
				Value(&a.home),
			huh.NewInput().
				Title("Default agent name").
				Description("The root of the reporting hierarchy.").
				Value(&a.agentName).
				Validate(func(s string) error {
					_, err := agents.NormalizeName(s)
					return err
				}),
			huh.NewConfirm().
				Title("Enable the task scheduler?").
				Description("Periodic nudges for stale and blocked tasks.").
				Value(&a.cronEnabled),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Protect the API with a password?").
				Value(&a.authEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if !a.authEnabled {
		return nil
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Username").
			Value(&a.authUsername),
		huh.NewInput().
			Title("Password").
			Description("At least 12 characters with upper, lower, digit and symbol.").
			EchoMode(huh.EchoModePassword).
			Value(&a.authPassword).
			Validate(auth.ValidatePasswordPolicy),
	)).Run()
}

// applyOnboardEnv reads the wizard answers from env for headless setups.
func applyOnboardEnv(a *onboardAnswers) {
	if v := os.Getenv("OPENGOAT_DEFAULT_AGENT"); v != "" {
		a.agentName = v
	}
	if v := os.Getenv("OPENGOAT_CRON_ENABLED"); v == "1" || v == "true" {
		a.cronEnabled = true
	}
	if v := os.Getenv("OPENGOAT_AUTH_USERNAME"); v != "" {
		a.authUsername = v
	}
	if v := os.Getenv("OPENGOAT_AUTH_PASSWORD"); v != "" {
		a.authEnabled = true
		a.authPassword = v
	}
}

func applyOnboard(a onboardAnswers) error {
	layout := paths.Layout{Home: paths.ExpandHome(a.home)}
	if err := os.MkdirAll(layout.Home, 0o755); err != nil {
		return configError{err}
	}

	agentID, err := agents.NormalizeName(a.agentName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(layout.GlobalConfigJSONPath())
	if err != nil {
		return configError{err}
	}
	cfg.DefaultAgent.ID = agentID
	if cfg.DefaultAgent.DisplayName == "" || cfg.DefaultAgent.DisplayName == "CEO" {
		cfg.DefaultAgent.DisplayName = a.agentName
	}
	cfg.Settings.TaskCronEnabled = a.cronEnabled

	if a.authEnabled {
		if err := auth.ValidatePasswordPolicy(a.authPassword); err != nil {
			return err
		}
		verifier, err := auth.HashPassword(a.authPassword)
		if err != nil {
			return err
		}
		cfg.Authentication = config.AuthConfig{
			Enabled:          true,
			Username:         a.authUsername,
			PasswordVerifier: verifier,
		}
	}

	if err := config.Save(layout.GlobalConfigJSONPath(), cfg); err != nil {
		return configError{err}
	}

	store := agents.NewStore(layout, agentID)
	if _, _, err := store.EnsureAgent(agents.Agent{
		ID:          agentID,
		DisplayName: cfg.DefaultAgent.DisplayName,
		Type:        agents.TypeManager,
	}); err != nil {
		return err
	}

	fmt.Printf("Home ready at %s. Start the server with: opengoat serve\n", layout.Home)
	return nil
}
