package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/blockhost/internal/plugin/api"
)

func TestDirServers(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"survival/logs", "creative", ".hidden"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	var log strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&log, "line %d\n", i)
	}
	if err := os.WriteFile(filepath.Join(root, "survival", "logs", "latest.log"), []byte(log.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	servers := dirServers{root: root}

	list, err := servers.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []api.ServerInfo{
		{ID: "creative", Name: "creative", Status: "stopped"},
		{ID: "survival", Name: "survival", Status: "stopped"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	lines, err := servers.Logs("survival", 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"line 4", "line 5"}, lines); diff != "" {
		t.Errorf("Logs() mismatch (-want +got):\n%s", diff)
	}

	lines, err = servers.Logs("creative", 10)
	if err != nil || len(lines) != 0 {
		t.Errorf("Logs() without a log file = %v, %v", lines, err)
	}

	if _, err := servers.Status("../etc"); err == nil {
		t.Error("Status() accepted a path outside the servers root")
	}
	if _, err := servers.Status("missing"); err == nil {
		t.Error("Status() found a missing server")
	}
	if err := servers.SendCommand("survival", "say hi"); !errors.Is(err, errNotRunning) {
		t.Errorf("SendCommand() error = %v, want errNotRunning", err)
	}
}

func TestDirServersMissingRoot(t *testing.T) {
	list, err := dirServers{root: filepath.Join(t.TempDir(), "none")}.List()
	if err != nil || len(list) != 0 {
		t.Errorf("List() = %v, %v, want empty", list, err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "motd")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"id":"motd","name":"MOTD","version":"1.0.0","description":"Message of the day","author":"someone","entry":"main.lua"}`
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte("-- motd\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	app := newApp()
	app.SetOut(&out)
	app.SetArgs([]string{"validate", filepath.Join(dir, "plugin.json")})
	if err := app.Execute(); err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out.String(), "motd 1.0.0 is valid") {
		t.Errorf("output = %q", out.String())
	}

	app = newApp()
	app.SetOut(&out)
	app.SetArgs([]string{"validate", t.TempDir()})
	if err := app.Execute(); err == nil {
		t.Error("validate accepted a directory without a manifest")
	}
}
