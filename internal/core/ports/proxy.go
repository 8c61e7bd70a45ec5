package ports

import "context"

// ProxyService manages the reverse proxy's upstream target. Each step of a
// reconfiguration is a precondition for the next: Backup, then Rewrite, then
// Reload. Restore copies the single backup slot back over the live config.
type ProxyService interface {
	// Backup snapshots the live config to the fixed backup path, overwriting
	// any prior backup.
	Backup() error

	// Rewrite substitutes the upstream target literal for fromPort with the
	// one for toPort. Zero matches is domain.ErrProxyConfig, not a no-op.
	Rewrite(fromPort, toPort int) error

	// Reload re-reads the config without dropping in-flight connections.
	Reload(ctx context.Context) error

	// Restore writes the backup slot back over the live config.
	Restore() error

	// CurrentTarget reports the upstream port the config points at, 0 when
	// it cannot be determined.
	CurrentTarget() (int, error)
}
