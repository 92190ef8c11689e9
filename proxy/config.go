package proxy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RouterEntry is one "proxy router <host> <port> [<poolsize>]" line.
type RouterEntry struct {
	Addr     string
	PoolSize int
}

// Config is the proxy's line-oriented configuration file (spec.md §6),
// rewritten atomically by the proxy itself when "PROXY FLUSHCONFIG" is
// issued and when a fresh myid is generated on load. "PROXY SET" and
// "PROXY ROUTER" only update the in-memory copy.
type Config struct {
	Path     string
	MyID     string
	Routers  []RouterEntry
	AuthPass map[string]string // addr -> password

	mu sync.Mutex
}

// LoadConfig reads path, generating and persisting a fresh myid on first
// run (spec.md §6: "myid is generated once and persisted; it is logged
// on start to aid debugging"). The file is opened read-write, so a
// missing or non-writable file is reported as an error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Path: path, AuthPass: make(map[string]string)}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "proxy" {
			continue
		}
		switch fields[1] {
		case "myid":
			if len(fields) >= 3 {
				cfg.MyID = fields[2]
			}
		case "router":
			if len(fields) < 4 {
				continue
			}
			addr := fields[2] + ":" + fields[3]
			poolSize := DefaultPoolSize
			if len(fields) >= 5 {
				if n, err := strconv.Atoi(fields[4]); err == nil && n > 0 {
					poolSize = n
				}
			}
			cfg.Routers = append(cfg.Routers, RouterEntry{Addr: addr, PoolSize: poolSize})
		case "auth-pass":
			if len(fields) < 5 {
				continue
			}
			addr := fields[2] + ":" + fields[3]
			cfg.AuthPass[addr] = fields[4]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if cfg.MyID == "" {
		hex := strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
		cfg.MyID = hex[:40]
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save rewrites the config file atomically: write to a temp file in the
// same directory, fsync it, then rename over the original (spec.md §6,
// C9 "rewrite the configuration atomically and fsync it").
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.Path)
	tmp, err := os.CreateTemp(dir, ".vkcproxy-conf-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "proxy myid %s\n", c.MyID)
	for _, r := range c.Routers {
		host, port, _ := splitAddr(r.Addr)
		fmt.Fprintf(w, "proxy router %s %s %d\n", host, port, r.PoolSize)
	}
	for addr, pass := range c.AuthPass {
		host, port, _ := splitAddr(addr)
		fmt.Fprintf(w, "proxy auth-pass %s %s %s\n", host, port, pass)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, c.Path)
}

func splitAddr(addr string) (host, port string, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return addr, "", fmt.Errorf("config: invalid address %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// AddRouter upserts a router entry (backing "PROXY ROUTER ip port
// [poolsize]").
func (c *Config) AddRouter(addr string, poolSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.Routers {
		if r.Addr == addr {
			c.Routers[i].PoolSize = poolSize
			return
		}
	}
	c.Routers = append(c.Routers, RouterEntry{Addr: addr, PoolSize: poolSize})
}

// SetAuthPass records a per-instance auth secret (backing "PROXY SET
// auth-pass ip port pass").
func (c *Config) SetAuthPass(addr, pass string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AuthPass[addr] = pass
}
