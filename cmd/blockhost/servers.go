package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/dshills/blockhost/internal/plugin/api"
)

// latestLog is where a server writes its current log, relative to its directory.
const latestLog = "logs/latest.log"

var errNotRunning = errors.New("server is not managed by this host")

// dirServers exposes every directory under root as a stopped server. The
// standalone host does not run server processes, so commands are refused.
type dirServers struct {
	root string
}

func (d dirServers) List() ([]api.ServerInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []api.ServerInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, api.ServerInfo{ID: e.Name(), Name: e.Name(), Status: "stopped"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d dirServers) dir(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid server id %q", id)
	}
	p, err := securejoin.SecureJoin(d.root, id)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("server %q not found", id)
	}
	return p, nil
}

func (d dirServers) Status(id string) (api.ServerInfo, error) {
	if _, err := d.dir(id); err != nil {
		return api.ServerInfo{}, err
	}
	return api.ServerInfo{ID: id, Name: id, Status: "stopped"}, nil
}

func (d dirServers) SendCommand(id, _ string) error {
	if _, err := d.dir(id); err != nil {
		return err
	}
	return fmt.Errorf("server %q: %w", id, errNotRunning)
}

// Logs returns the last n lines of the server's latest log.
func (d dirServers) Logs(id string, n int) ([]string, error) {
	dir, err := d.dir(id)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []string{}, nil
	}
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(latestLog)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
