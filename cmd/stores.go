package cmd

import (
	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/authz"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

// openConfig resolves the home layout and loads the config store for the
// lightweight commands that run without the server.
func openConfig() (paths.Layout, *config.Store, error) {
	layout, err := paths.Resolve(homeFlag)
	if err != nil {
		return paths.Layout{}, nil, configError{err}
	}
	store, err := config.NewStore(layout.GlobalConfigJSONPath())
	if err != nil {
		return paths.Layout{}, nil, configError{err}
	}
	return layout, store, nil
}

func openAgents(layout paths.Layout, cfg config.Config) *agents.Store {
	rootID := cfg.DefaultAgent.ID
	if rootID == "" {
		rootID = "ceo"
	}
	return agents.NewStore(layout, rootID)
}

func openTasks(layout paths.Layout, agentStore *agents.Store) (*tasks.Store, error) {
	return tasks.Open(layout.TasksDBPath(), authz.NewResolver(agentStore))
}
