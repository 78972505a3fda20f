package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAgent.ID != "ceo" {
		t.Errorf("DefaultAgent.ID = %q, want ceo", cfg.DefaultAgent.ID)
	}
	if cfg.Providers.Default != "openclaw" {
		t.Errorf("Providers.Default = %q, want openclaw", cfg.Providers.Default)
	}
	if cfg.Scheduler.IntervalMinutes != 1 {
		t.Errorf("Scheduler.IntervalMinutes = %d, want 1", cfg.Scheduler.IntervalMinutes)
	}
}

func TestLoadToleratesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		// local overrides
		settings: {
			taskCronEnabled: true,
			maxInactivityMinutes: 45,
			inactiveAgentNotificationTarget: "ceo-only",
		},
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Settings.TaskCronEnabled {
		t.Error("TaskCronEnabled = false, want true")
	}
	if cfg.Settings.MaxInactivityMinutes != 45 {
		t.Errorf("MaxInactivityMinutes = %d, want 45", cfg.Settings.MaxInactivityMinutes)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENCLAW_CMD", "/opt/openclaw/bin/openclaw")
	t.Setenv("OPENGOAT_PORT", "9001")
	t.Setenv("TASK_CRON_INTERVAL_MINUTES", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Command != "/opt/openclaw/bin/openclaw" {
		t.Errorf("Providers.Command = %q", cfg.Providers.Command)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Scheduler.IntervalMinutes != 5 {
		t.Errorf("Scheduler.IntervalMinutes = %d, want 5", cfg.Scheduler.IntervalMinutes)
	}
}

func TestSaveLoadSaveByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Settings.TaskCronEnabled = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Save(path, loaded); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Errorf("save/load/save not byte-stable:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid", Settings{MaxInactivityMinutes: 30, InactiveAgentNotificationTarget: NotifyAllManagers}, false},
		{"ceo only", Settings{MaxInactivityMinutes: 10080, InactiveAgentNotificationTarget: NotifyCEOOnly}, false},
		{"zero minutes", Settings{MaxInactivityMinutes: 0, InactiveAgentNotificationTarget: NotifyAllManagers}, true},
		{"over bound", Settings{MaxInactivityMinutes: 10081, InactiveAgentNotificationTarget: NotifyAllManagers}, true},
		{"bad target", Settings{MaxInactivityMinutes: 30, InactiveAgentNotificationTarget: "everyone"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreUpdateSettingsNotifies(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var got []bool
	unsub := st.Subscribe(func(s Settings) { got = append(got, s.TaskCronEnabled) })

	next := st.Settings()
	next.TaskCronEnabled = true
	if _, err := st.UpdateSettings(next); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	unsub()
	next.TaskCronEnabled = false
	if _, err := st.UpdateSettings(next); err != nil {
		t.Fatalf("UpdateSettings after unsub: %v", err)
	}

	if len(got) != 1 || got[0] != true {
		t.Errorf("subscriber calls = %v, want exactly [true]", got)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "secret-token"
	cfg.Authentication.PasswordVerifier = "argon2id$..."

	masked := cfg.MaskedCopy()
	if masked.Gateway.Token != secretMask {
		t.Errorf("Gateway.Token = %q, want masked", masked.Gateway.Token)
	}
	if masked.Authentication.PasswordVerifier != secretMask {
		t.Errorf("PasswordVerifier = %q, want masked", masked.Authentication.PasswordVerifier)
	}
	if cfg.Gateway.Token != "secret-token" {
		t.Error("MaskedCopy mutated the original")
	}
}
