package streaming

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/placedotfun/server/internal/world"
)

// Manager coordinates server-driven world streaming subscriptions. Each
// subscription is a square window of chunk positions around a viewer; the
// manager recomputes windows as viewers move and reports which positions
// entered and left the window.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	maxRadius     int
}

// Subscription tracks an individual viewer's chunk window.
type Subscription struct {
	ID        string
	ViewerID  string
	Center    world.ChunkPosition
	Radius    int
	Positions []world.ChunkPosition
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Plan captures the initial server response for a new subscription.
type Plan struct {
	SubscriptionID string
	Positions      []world.ChunkPosition
}

// Delta describes the window change after a viewer moves.
type Delta struct {
	SubscriptionID string
	Added          []world.ChunkPosition
	Removed        []world.ChunkPosition
	Current        []world.ChunkPosition
}

// NewManager builds a streaming manager. maxRadius bounds the window radius
// a single subscription may request.
func NewManager(maxRadius int) *Manager {
	return &Manager{
		subscriptions: make(map[string]*Subscription),
		maxRadius:     maxRadius,
	}
}

// Subscribe validates the requested window and registers a subscription for
// the viewer, returning the initial plan of covered positions.
func (m *Manager) Subscribe(viewerID string, center world.ChunkPosition, radius int) (*Plan, error) {
	if radius < 0 {
		return nil, fmt.Errorf("radius must not be negative")
	}
	if radius > m.maxRadius {
		return nil, fmt.Errorf("radius cannot exceed %d", m.maxRadius)
	}

	positions := world.WindowPositions(center, radius)
	subscription := &Subscription{
		ID:        uuid.NewString(),
		ViewerID:  viewerID,
		Center:    center,
		Radius:    radius,
		Positions: positions,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	m.mu.Lock()
	m.subscriptions[subscription.ID] = subscription
	m.mu.Unlock()

	return &Plan{
		SubscriptionID: subscription.ID,
		Positions:      positions,
	}, nil
}

// Move recenters the subscription window on the viewer's new position and
// returns the positions that entered and left the window.
func (m *Manager) Move(viewerID, subscriptionID string, center world.ChunkPosition) (*Delta, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	if subscription.ViewerID != viewerID {
		return nil, fmt.Errorf("subscription %s does not belong to the current viewer", subscriptionID)
	}

	next := world.WindowPositions(center, subscription.Radius)
	added, removed := diffWindows(subscription.Positions, next)

	subscription.Center = center
	subscription.Positions = next
	subscription.UpdatedAt = time.Now()

	return &Delta{
		SubscriptionID: subscriptionID,
		Added:          added,
		Removed:        removed,
		Current:        next,
	}, nil
}

// Get retrieves a subscription by id.
func (m *Manager) Get(subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	return subscription, nil
}

// Drop removes every subscription owned by the viewer and returns how many
// were removed. Called when a viewer disconnects.
func (m *Manager) Drop(viewerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, subscription := range m.subscriptions {
		if subscription.ViewerID == viewerID {
			delete(m.subscriptions, id)
			dropped++
		}
	}
	return dropped
}

// SubscriptionsContaining returns the ids of every subscription whose
// window covers the given position, used to target chunk update fanout.
func (m *Manager) SubscriptionsContaining(pos world.ChunkPosition) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, subscription := range m.subscriptions {
		if world.WindowContains(subscription.Center, subscription.Radius, pos) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// diffWindows reports which positions are in next but not previous, and in
// previous but not next, preserving window enumeration order.
func diffWindows(previous, next []world.ChunkPosition) (added, removed []world.ChunkPosition) {
	prevSet := make(map[world.ChunkPosition]struct{}, len(previous))
	nextSet := make(map[world.ChunkPosition]struct{}, len(next))

	for _, pos := range previous {
		prevSet[pos] = struct{}{}
	}
	for _, pos := range next {
		nextSet[pos] = struct{}{}
		if _, exists := prevSet[pos]; !exists {
			added = append(added, pos)
		}
	}
	for _, pos := range previous {
		if _, exists := nextSet[pos]; !exists {
			removed = append(removed, pos)
		}
	}
	return
}
