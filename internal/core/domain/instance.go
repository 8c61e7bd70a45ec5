package domain

// Color identifies one of the two deployment slots.
type Color string

const (
	Blue  Color = "blue"
	Green Color = "green"
)

// Other returns the opposite slot color.
func (c Color) Other() Color {
	if c == Blue {
		return Green
	}
	return Blue
}

func (c Color) String() string { return string(c) }

// Instance represents a running application container bound to exactly one
// host port. At most one instance per color exists at any time; when both
// colors are present they occupy distinct ports.
type Instance struct {
	Color Color  `json:"color"`
	Name  string `json:"name"`
	Port  int    `json:"port"` // published host port, 0 if not publishing yet
	Image string `json:"image"`
}

// DeploymentState is the live blue/green picture of the host. The
// orchestrator is stateless between invocations, so this is reconstructed
// from the container runtime and the proxy config at the start of every
// command, never cached.
type DeploymentState struct {
	Blue      *Instance `json:"blue,omitempty"`
	Green     *Instance `json:"green,omitempty"`
	ProxyPort int       `json:"proxy_port"` // upstream port in the proxy config, 0 if unknown
}
