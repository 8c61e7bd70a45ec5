package domain

import "errors"

// Deployment cycle failure taxonomy. Every fatal error halts the cycle and
// is surfaced to the operator; nothing is retried automatically.
var (
	// ErrInstanceNotFound is returned when the container runtime has no
	// instance under the requested name.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrBuildFailed means the image build exited non-zero. Nothing has been
	// created at this point.
	ErrBuildFailed = errors.New("image build failed")

	// ErrPortUnresolved means the blue instance is absent or its published
	// port could not be determined. Never defaulted silently.
	ErrPortUnresolved = errors.New("blue port could not be resolved")

	// ErrStartConflict means the target container name or host port is
	// already in use.
	ErrStartConflict = errors.New("instance name or port already in use")

	// ErrProxyConfig means the proxy config backup or substitution failed.
	// A reload must not be attempted on an unmodified or corrupt config.
	ErrProxyConfig = errors.New("proxy config update failed")

	// ErrProxyReload means the proxy rejected the rewritten config. The
	// backup slot holds the previous config for recovery.
	ErrProxyReload = errors.New("proxy reload failed")

	// ErrPromotion means stop/remove/rename of an instance failed during
	// promotion.
	ErrPromotion = errors.New("promotion failed")
)
