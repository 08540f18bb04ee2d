//go:build unix

package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestKillReachesGrandchildren(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	r := NewRegistry()
	defer r.Close()

	pidFile := filepath.Join(t.TempDir(), "pid")
	p, err := r.Spawn(Spec{Program: "sh", Args: []string{"-c", "sleep 600 & echo $! > " + pidFile + "; wait"}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	grandchild := readPID(t, pidFile)

	if n := r.KillAll(); n != 1 {
		t.Errorf("KillAll() = %d, want 1", n)
	}
	<-p.Done()

	// The orphaned grandchild is reaped by init, which can lag the kill.
	deadline := time.Now().Add(3 * time.Second)
	for alive(grandchild) {
		if time.Now().After(deadline) {
			_ = unix.Kill(grandchild, unix.SIGKILL)
			t.Fatalf("grandchild %d survived KillAll", grandchild)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if pid, ok := tryReadPID(path); ok {
			return pid
		}
		if time.Now().After(deadline) {
			t.Fatalf("no pid written to %s", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func tryReadPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// alive reports whether pid exists and is not a zombie.
func alive(pid int) bool {
	if unix.Kill(pid, 0) != nil {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	// The state field follows the parenthesised command name.
	if i := strings.LastIndexByte(string(stat), ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] != 'Z'
	}
	return true
}
