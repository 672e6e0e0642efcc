package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

const TopicProfileUpdated = "identity.profile.updated.v1"

type Invalidator interface {
	Invalidate(ctx context.Context, providerID string) error
}

type profileUpdated struct {
	UserID     string `json:"user_id"`
	ProviderID string `json:"provider_id"`
}

// ProfileHandler evicts cached display data for the provider named in a profile event.
func ProfileHandler(cache Invalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt profileUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return Permanent(fmt.Errorf("decode profile event: %w", err))
		}
		id := evt.ProviderID
		if id == "" {
			id = evt.UserID
		}
		if id == "" {
			return Permanent(errors.New("profile event without provider id"))
		}
		if err := cache.Invalidate(ctx, id); err != nil {
			return fmt.Errorf("invalidate provider %s: %w", id, err)
		}
		logger.Debug("provider directory entry invalidated", "provider_id", id)
		return nil
	}
}
