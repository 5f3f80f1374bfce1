package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// Feed carries driver request updates to live subscribers. Delivery is
// best-effort; a subscriber that falls behind can always re-list.
type Feed interface {
	Publish(ctx context.Context, r models.DriverRequest) error
	// Subscribe returns a channel of updates for one driver that is closed
	// once ctx is done.
	Subscribe(ctx context.Context, driverID string) (<-chan models.DriverRequest, error)
}

const subscriberBuffer = 32

// Hub is the in-process Feed.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan models.DriverRequest]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[string]map[chan models.DriverRequest]struct{}), logger: logger}
}

func (h *Hub) Publish(ctx context.Context, r models.DriverRequest) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[r.DriverID] {
		select {
		case ch <- r:
		default:
			h.logger.Warn("inbox subscriber lagging, dropping update", "driver_id", r.DriverID, "request_id", r.ID)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, driverID string) (<-chan models.DriverRequest, error) {
	ch := make(chan models.DriverRequest, subscriberBuffer)
	h.mu.Lock()
	if h.subs[driverID] == nil {
		h.subs[driverID] = make(map[chan models.DriverRequest]struct{})
	}
	h.subs[driverID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[driverID], ch)
		if len(h.subs[driverID]) == 0 {
			delete(h.subs, driverID)
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisFeed fans updates out over Redis pub/sub so the dispatcher and API
// processes can run separately.
type RedisFeed struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisFeed(client *redis.Client, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

func channelFor(driverID string) string { return "driver-requests:" + driverID }

func (f *RedisFeed) Publish(ctx context.Context, r models.DriverRequest) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channelFor(r.DriverID), b).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, driverID string) (<-chan models.DriverRequest, error) {
	ps := f.client.Subscribe(ctx, channelFor(driverID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channelFor(driverID), err)
	}
	out := make(chan models.DriverRequest, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var r models.DriverRequest
				if err := json.Unmarshal([]byte(m.Payload), &r); err != nil {
					f.logger.Warn("invalid driver request payload", "channel", m.Channel, "error", err)
					continue
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
