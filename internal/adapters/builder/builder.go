package builder

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/moby/term"

	"github.com/akshar-raaj/bluegreen/internal/core/domain"
)

// Adapter implements ports.BuilderService using the Docker SDK.
type Adapter struct {
	cli *client.Client
}

func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// BuildImage builds a Docker image from a local directory context. The build
// stream is relayed to stdout and a failed build step surfaces as
// domain.ErrBuildFailed, before any instance has been touched.
func (a *Adapter) BuildImage(ctx context.Context, contextDir string, imageName string) (string, error) {
	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}

	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	// The HTTP call succeeds even when a build step fails; the failure is an
	// error message inside the JSON stream.
	termFd, isTerm := term.GetFdInfo(os.Stdout)
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, os.Stdout, termFd, isTerm, nil); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}

	return imageName, nil
}

// BuildFromRepo clones a repository and builds a Docker image from the clone.
func (a *Adapter) BuildFromRepo(ctx context.Context, repoURL string, imageName string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "bluegreen-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: os.Stdout,
		Depth:    1, // shallow clone for speed
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}

	return a.BuildImage(ctx, tmpDir, imageName)
}
