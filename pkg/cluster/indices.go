package cluster

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// indicesAPI is the part of the cluster client the index reset depends on.
type indicesAPI interface {
	Indices(ctx context.Context, pattern string) ([]string, error)
	DeleteIndices(ctx context.Context, pattern string) error
}

// IndexReset deletes workload indices before each reconfiguration and before
// each benchmark run to guarantee a clean baseline. A single delete call can
// race with in-flight shard relocation, so every attempt is verified with a
// follow-up listing.
type IndexReset struct {
	client   indicesAPI
	attempts uint
	delay    time.Duration
}

// NewIndexReset returns an IndexReset using the given client.
func NewIndexReset(client indicesAPI) *IndexReset {
	return &IndexReset{
		client:   client,
		attempts: 3,
		delay:    2 * time.Second,
	}
}

// Reset deletes all indices matching pattern, best effort. Indices that
// survive all attempts are logged as a warning and left to the downstream
// health checks; the caller is never blocked by flaky cleanup.
func (r *IndexReset) Reset(ctx context.Context, pattern string) {
	err := retry.Do(
		func() error {
			if err := r.client.DeleteIndices(ctx, pattern); err != nil {
				return err
			}

			remaining, err := r.client.Indices(ctx, pattern)
			if err != nil {
				return errors.Wrap(err, "verifying index deletion failed")
			}
			if len(remaining) > 0 {
				return errors.Errorf("%d indices matching %q still present", len(remaining), pattern)
			}
			return nil
		},
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warnf("Index reset for pattern %q did not converge: %v", pattern, err)
		return
	}

	log.Debugf("Indices matching %q deleted", pattern)
}
