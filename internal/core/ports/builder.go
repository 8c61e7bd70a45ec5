package ports

import "context"

// BuilderService defines operations for building container images.
type BuilderService interface {
	// BuildImage builds an image from a local directory context. It returns
	// the image reference or domain.ErrBuildFailed.
	BuildImage(ctx context.Context, contextDir string, imageName string) (string, error)

	// BuildFromRepo clones a repository and builds an image from the clone.
	BuildFromRepo(ctx context.Context, repoURL string, imageName string) (string, error)
}
