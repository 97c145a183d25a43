package svc

import (
	"testing"

	"github.com/kardianos/service"
)

func TestNewServiceConfig(t *testing.T) {
	cfg := &ServiceConfig{
		Name:        "foolscrate",
		DisplayName: "Foolscrate Sync Agent",
		Description: "test",
		ConfigPath:  "/etc/foolscrate/agent.yaml",
	}

	svcCfg := NewServiceConfig(cfg, "/usr/local/bin/foolscrate")

	if svcCfg.Name != "foolscrate" {
		t.Errorf("Name = %q", svcCfg.Name)
	}

	want := []string{"--service-run", "agent", "--config", "/etc/foolscrate/agent.yaml"}
	if len(svcCfg.Arguments) != len(want) {
		t.Fatalf("Arguments = %v, want %v", svcCfg.Arguments, want)
	}
	for i := range want {
		if svcCfg.Arguments[i] != want[i] {
			t.Errorf("Arguments[%d] = %q, want %q", i, svcCfg.Arguments[i], want[i])
		}
	}
}

func TestIsServiceMode(t *testing.T) {
	if IsServiceMode([]string{"foolscrate", "agent"}) {
		t.Error("expected false without --service-run")
	}
	if !IsServiceMode([]string{"foolscrate", "--service-run", "agent"}) {
		t.Error("expected true with --service-run")
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusString(service.StatusRunning); got != "running" {
		t.Errorf("StatusString(running) = %q", got)
	}
	if got := StatusString(service.StatusStopped); got != "stopped" {
		t.Errorf("StatusString(stopped) = %q", got)
	}
	if got := StatusString(service.StatusUnknown); got != "unknown" {
		t.Errorf("StatusString(unknown) = %q", got)
	}
}
