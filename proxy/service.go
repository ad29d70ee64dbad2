// Package proxy relays training program artifacts from an OCI registry to
// runner agents over MQTT.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peakml/gradient/agent"
	pkgmqtt "github.com/peakml/gradient/pkg/mqtt"
)

const (
	chunkBuffer     = 10
	packageChanSize = 100

	pubTopicTemplate = "channels/%s/messages/registry/server"
	subTopicTemplate = "channels/%s/messages/registry/runner"

	maxConcurrentFetches = 50
)

type ProxyService struct {
	registry      RegistryConfig
	pubsub        pkgmqtt.PubSub
	channelID     string
	logger        *slog.Logger
	packageChan   chan string
	dataChan      chan agent.ChunkPayload
	fetching      map[string]bool
	fetchingMu    sync.Mutex
	activeFetches int
	activeFetchMu sync.Mutex
}

func NewService(pubsub pkgmqtt.PubSub, channelID string, registry RegistryConfig, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		registry:    registry,
		pubsub:      pubsub,
		channelID:   channelID,
		logger:      logger,
		packageChan: make(chan string, packageChanSize),
		dataChan:    make(chan agent.ChunkPayload, chunkBuffer),
		fetching:    make(map[string]bool),
	}
}

func (s *ProxyService) PackageChan() chan string {
	return s.packageChan
}

// Subscribe listens for artifact fetch requests coming from runner agents.
func (s *ProxyService) Subscribe(ctx context.Context) error {
	topic := fmt.Sprintf(subTopicTemplate, s.channelID)

	return s.pubsub.Subscribe(ctx, topic, func(topic string, msg map[string]any) error {
		packageURL, ok := msg["package_url"].(string)
		if !ok || packageURL == "" {
			return fmt.Errorf("fetch request without package_url on %s", topic)
		}

		select {
		case s.packageChan <- packageURL:
			s.logger.Info("received package request", slog.String("package_url", packageURL))
		case <-ctx.Done():
			return ctx.Err()
		default:
			s.logger.Warn("package channel full, dropping request",
				slog.String("package_url", packageURL))
		}

		return nil
	})
}

// StreamRegistry drains the package channel, fetching artifacts from the OCI
// registry with a bound on concurrent pulls.
func (s *ProxyService) StreamRegistry(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packageURL := <-s.packageChan:
			s.activeFetchMu.Lock()
			if s.activeFetches >= maxConcurrentFetches {
				s.activeFetchMu.Unlock()
				s.logger.Debug("maximum concurrent fetches reached, queuing request",
					slog.String("package_url", packageURL),
					slog.Int("max_concurrent", maxConcurrentFetches))

				continue
			}
			s.activeFetches++
			s.activeFetchMu.Unlock()

			s.fetchingMu.Lock()
			if s.fetching[packageURL] {
				s.fetchingMu.Unlock()
				s.activeFetchMu.Lock()
				s.activeFetches--
				s.activeFetchMu.Unlock()
				s.logger.Debug("already fetching package, skipping duplicate request",
					slog.String("package_url", packageURL))

				continue
			}

			s.fetching[packageURL] = true
			s.fetchingMu.Unlock()

			go func(packageURL string) {
				defer func() {
					s.fetchingMu.Lock()
					delete(s.fetching, packageURL)
					s.fetchingMu.Unlock()

					s.activeFetchMu.Lock()
					s.activeFetches--
					s.activeFetchMu.Unlock()
				}()

				s.logger.Info("fetching package from registry",
					slog.String("package_url", packageURL))

				chunks, err := s.registry.FetchPackage(ctx, packageURL)
				if err != nil {
					s.logger.Error("failed to fetch package",
						slog.String("package_url", packageURL),
						slog.Any("error", err))

					return
				}

				s.logger.Info("successfully fetched package, sending chunks",
					slog.String("package_url", packageURL),
					slog.Int("total_chunks", len(chunks)))

				for _, chunk := range chunks {
					select {
					case s.dataChan <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}(packageURL)
		}
	}
}

// StreamMQTT publishes fetched chunks to the registry topic the agents
// listen on.
func (s *ProxyService) StreamMQTT(ctx context.Context) error {
	packageChunks := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-s.dataChan:
			if err := s.pubsub.Publish(ctx, fmt.Sprintf(pubTopicTemplate, s.channelID), chunk); err != nil {
				s.logger.Error("failed to publish package chunk",
					slog.Any("error", err),
					slog.Int("chunk", chunk.ChunkIdx),
					slog.Int("total", chunk.TotalChunks))

				continue
			}

			packageChunks[chunk.PackageURL]++

			if packageChunks[chunk.PackageURL] == chunk.TotalChunks {
				s.logger.Info("successfully sent all chunks",
					slog.String("package_url", chunk.PackageURL),
					slog.Int("total_chunks", chunk.TotalChunks))
				delete(packageChunks, chunk.PackageURL)
			}
		}
	}
}
