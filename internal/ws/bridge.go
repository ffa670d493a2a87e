package ws

import (
	"encoding/json"
	"time"

	"log/slog"

	"github.com/strideclub/tracker/internal/repository"
	"github.com/strideclub/tracker/internal/service/sync"
)

// Frame is the wire shape of one hub event.
type Frame struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection,omitempty"`
	Op         string `json:"op,omitempty"`
	At         string `json:"at"`
}

// Bridge forwards change events and sync state transitions from the
// synchronizer to hub subscribers. Stop detaches it.
type Bridge struct {
	stops []func()
}

// NewBridge wires a synchronizer to a hub and starts forwarding.
func NewBridge(svc *sync.Service, hub *Hub, logger *slog.Logger) *Bridge {
	b := &Bridge{}
	b.stops = append(b.stops, svc.OnRemoteChange(func(ev repository.ChangeEvent) {
		payload, err := json.Marshal(Frame{
			Kind:       "change",
			Collection: string(ev.Collection),
			Op:         ev.Op,
			At:         time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Warn("change frame marshal failed", "error", err)
			return
		}
		hub.Broadcast(string(ev.Collection), payload)
	}))
	b.stops = append(b.stops, svc.Notify(func(sig sync.Signal) {
		payload, err := json.Marshal(Frame{
			Kind: string(sig),
			At:   time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Warn("signal frame marshal failed", "error", err)
			return
		}
		hub.Broadcast(TopicAll, payload)
	}))
	return b
}

// Stop detaches the bridge from the synchronizer.
func (b *Bridge) Stop() {
	for _, stop := range b.stops {
		stop()
	}
	b.stops = nil
}
