package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/caarlos0/env/v11"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/peakml/gradient/agent"
)

const defaultTag = "latest"

// RegistryConfig describes the OCI registry that hosts training program
// artifacts.
type RegistryConfig struct {
	RegistryURL  string `env:"REGISTRY_URL"          envDefault:""`
	Authenticate bool   `env:"REGISTRY_AUTHENTICATE" envDefault:"false"`
	Token        string `env:"REGISTRY_TOKEN"        envDefault:""`
	Username     string `env:"REGISTRY_USERNAME"     envDefault:""`
	Password     string `env:"REGISTRY_PASSWORD"     envDefault:""`
	ChunkSize    int    `env:"REGISTRY_CHUNK_SIZE"   envDefault:"512000"`
}

func NewRegistryConfig(opts env.Options) (RegistryConfig, error) {
	c := RegistryConfig{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return RegistryConfig{}, err
	}

	return c, nil
}

// FetchPackage pulls the training program artifact behind a package URL and
// splits it into MQTT-sized chunks.
func (c *RegistryConfig) FetchPackage(ctx context.Context, packageURL string) ([]agent.ChunkPayload, error) {
	ref, err := registry.ParseReference(packageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid package url %s: %w", packageURL, err)
	}
	tag := ref.Reference
	if tag == "" {
		tag = defaultTag
	}

	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository for %s: %w", packageURL, err)
	}

	c.setupAuthentication(repo)

	manifest, err := c.fetchManifest(ctx, repo, tag, packageURL)
	if err != nil {
		return nil, err
	}

	largestLayer, err := findLargestLayer(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to find layer for %s: %w", packageURL, err)
	}

	layerReader, err := repo.Fetch(ctx, largestLayer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer for %s: %w", packageURL, err)
	}
	defer layerReader.Close()

	data, err := io.ReadAll(layerReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer for %s: %w", packageURL, err)
	}

	return createChunks(data, packageURL, c.ChunkSize), nil
}

func (c *RegistryConfig) setupAuthentication(repo *remote.Repository) {
	if !c.Authenticate {
		return
	}

	var cred auth.Credential
	if c.Username != "" && c.Password != "" {
		cred = auth.Credential{
			Username: c.Username,
			Password: c.Password,
		}
	} else if c.Token != "" {
		cred = auth.Credential{
			AccessToken: c.Token,
		}
	}

	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(c.RegistryURL, cred),
	}
}

func (c *RegistryConfig) fetchManifest(ctx context.Context, repo *remote.Repository, tag, packageURL string) (*ocispec.Manifest, error) {
	descriptor, err := repo.Resolve(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest for %s: %w", packageURL, err)
	}

	reader, err := repo.Fetch(ctx, descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for %s: %w", packageURL, err)
	}
	defer reader.Close()

	manifestData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %s: %w", packageURL, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s: %w", packageURL, err)
	}

	return &manifest, nil
}

func findLargestLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	var largestLayer ocispec.Descriptor
	var maxSize int64

	for _, layer := range manifest.Layers {
		if layer.Size > maxSize {
			maxSize = layer.Size
			largestLayer = layer
		}
	}

	if largestLayer.Size == 0 {
		return ocispec.Descriptor{}, errors.New("no valid layers found in manifest")
	}

	return largestLayer, nil
}

func createChunks(data []byte, packageURL string, chunkSize int) []agent.ChunkPayload {
	dataSize := len(data)
	totalChunks := (dataSize + chunkSize - 1) / chunkSize

	chunks := make([]agent.ChunkPayload, 0, totalChunks)
	for i := range totalChunks {
		start := i * chunkSize
		end := min(start+chunkSize, dataSize)

		chunks = append(chunks, agent.ChunkPayload{
			PackageURL:  packageURL,
			ChunkIdx:    i,
			TotalChunks: totalChunks,
			Data:        data[start:end],
		})
	}

	return chunks
}
