// Package nginx rewires the reverse proxy's upstream target between the two
// deployment slots. The config is edited in memory and written back
// explicitly, so the same code path runs on every platform.
package nginx

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/akshar-raaj/bluegreen/internal/core/domain"
)

var upstreamRe = regexp.MustCompile(`proxy_pass http://localhost:(\d+);`)

// Reconfigurator implements ports.ProxyService against a file-based nginx
// config containing one line of the form `proxy_pass http://localhost:<port>;`.
type Reconfigurator struct {
	confPath   string
	backupPath string
	reloadCmd  []string

	// run executes the reload command. Swappable in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New(confPath, backupPath string, reloadCmd []string) *Reconfigurator {
	return &Reconfigurator{
		confPath:   confPath,
		backupPath: backupPath,
		reloadCmd:  reloadCmd,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func upstreamTarget(port int) string {
	return fmt.Sprintf("http://localhost:%d;", port)
}

// Backup copies the live config to the fixed backup path, overwriting any
// prior backup. Single slot: no rollback history beyond the previous state.
func (r *Reconfigurator) Backup() error {
	data, mode, err := r.readConf()
	if err != nil {
		return fmt.Errorf("%w: backup: %v", domain.ErrProxyConfig, err)
	}
	if err := os.WriteFile(r.backupPath, data, mode); err != nil {
		return fmt.Errorf("%w: backup: %v", domain.ErrProxyConfig, err)
	}
	return nil
}

// Rewrite substitutes the upstream target literal for fromPort with the one
// for toPort. Zero matches means the config never pointed where we thought
// it did, and reloading would silently keep old routing, so it is fatal.
func (r *Reconfigurator) Rewrite(fromPort, toPort int) error {
	data, mode, err := r.readConf()
	if err != nil {
		return fmt.Errorf("%w: rewrite: %v", domain.ErrProxyConfig, err)
	}

	needle := []byte(upstreamTarget(fromPort))
	if !bytes.Contains(data, needle) {
		return fmt.Errorf("%w: target %q not found in %s", domain.ErrProxyConfig, upstreamTarget(fromPort), r.confPath)
	}

	updated := bytes.ReplaceAll(data, needle, []byte(upstreamTarget(toPort)))
	if err := os.WriteFile(r.confPath, updated, mode); err != nil {
		return fmt.Errorf("%w: rewrite: %v", domain.ErrProxyConfig, err)
	}
	return nil
}

// Reload asks the proxy to re-read its config. A reload, not a restart:
// existing connections drain while new ones route to the new target.
func (r *Reconfigurator) Reload(ctx context.Context) error {
	if len(r.reloadCmd) == 0 {
		return fmt.Errorf("%w: no reload command configured", domain.ErrProxyReload)
	}
	out, err := r.run(ctx, r.reloadCmd[0], r.reloadCmd[1:]...)
	if err != nil {
		return fmt.Errorf("%w: %v: %s", domain.ErrProxyReload, err, bytes.TrimSpace(out))
	}
	return nil
}

// Restore writes the backup slot back over the live config.
func (r *Reconfigurator) Restore() error {
	data, err := os.ReadFile(r.backupPath)
	if err != nil {
		return fmt.Errorf("%w: restore: %v", domain.ErrProxyConfig, err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(r.confPath); err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(r.confPath, data, mode); err != nil {
		return fmt.Errorf("%w: restore: %v", domain.ErrProxyConfig, err)
	}
	return nil
}

// CurrentTarget reports the upstream port the live config points at.
func (r *Reconfigurator) CurrentTarget() (int, error) {
	data, _, err := r.readConf()
	if err != nil {
		return 0, err
	}
	m := upstreamRe.FindSubmatch(data)
	if m == nil {
		return 0, fmt.Errorf("no proxy_pass target in %s", r.confPath)
	}
	port, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, err
	}
	return port, nil
}

func (r *Reconfigurator) readConf() ([]byte, fs.FileMode, error) {
	info, err := os.Stat(r.confPath)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(r.confPath)
	if err != nil {
		return nil, 0, err
	}
	return data, info.Mode(), nil
}
