// Package activity fans ingestion events out to per-organization subscribers.
package activity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultMaxMissed         = 3
	DefaultSubscriberBuffer  = 32
)

var (
	ErrHubUnavailable        = errors.New("hub_unavailable")
	ErrInvalidOrganizationID = errors.New("invalid_organization_id")
)

// EndReason tells a subscriber why its event channel was closed.
type EndReason string

const (
	EndClosed   EndReason = "closed"
	EndEvicted  EndReason = "heartbeat_timeout"
	EndReplaced EndReason = "replaced"
)

// Publisher delivers best-effort events; it never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, orgID string, event Event)
}

type Hub struct {
	mu      sync.RWMutex
	streams map[string]*stream

	clock             quartz.Clock
	heartbeatInterval time.Duration
	maxMissed         int
	subscriberBuffer  int

	metrics *metrics.Metrics
	log     *zap.Logger
}

type stream struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	orgID    string
	clientID string
	id       uint64

	mu     sync.Mutex
	ch     chan Event
	closed bool
	reason EndReason
	missed atomic.Int32
	once   sync.Once
}

type Params struct {
	Clock   quartz.Clock
	Config  config.ActivityConfig
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

func NewHub(p Params) *Hub {
	clock := p.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	interval := p.Config.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	maxMissed := p.Config.MaxMissed
	if maxMissed <= 0 {
		maxMissed = DefaultMaxMissed
	}
	buffer := p.Config.SubscriberBuffer
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		streams:           make(map[string]*stream),
		clock:             clock,
		heartbeatInterval: interval,
		maxMissed:         maxMissed,
		subscriberBuffer:  buffer,
		metrics:           p.Metrics,
		log:               log.Named("activity.hub"),
	}
}

// Publish sends event to every current subscriber of orgID. A subscriber with a full
// buffer misses this event; nobody else is affected.
func (h *Hub) Publish(ctx context.Context, orgID string, event Event) {
	if h == nil {
		return
	}
	org := strings.TrimSpace(orgID)
	if org == "" {
		return
	}
	event.OrganizationID = org
	if event.Timestamp.IsZero() {
		event.Timestamp = h.clock.Now().UTC()
	}

	subs := h.snapshot(org)
	dropped := 0
	for _, sub := range subs {
		if !sub.send(event) {
			dropped++
		}
	}
	h.metrics.RecordActivityEvent(ctx, event.Type)
	if dropped > 0 {
		h.log.Debug("activity event dropped for slow subscribers",
			zap.String("org_id", org),
			zap.String("event_type", event.Type),
			zap.Int("dropped", dropped),
		)
	}
}

// Subscribe registers a subscriber and queues the connected frame. A non-empty clientID
// replaces an earlier subscription of the same client in the same organization.
func (h *Hub) Subscribe(orgID, clientID string) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	org := strings.TrimSpace(orgID)
	if org == "" {
		return nil, ErrInvalidOrganizationID
	}
	clientID = strings.TrimSpace(clientID)

	sub := &Subscription{
		hub:      h,
		orgID:    org,
		clientID: clientID,
		ch:       make(chan Event, h.subscriberBuffer),
	}
	sub.ch <- Event{Type: TypeConnected, OrganizationID: org, Timestamp: h.clock.Now().UTC()}

	var replaced []*Subscription
	h.mu.Lock()
	s := h.streams[org]
	if s == nil {
		s = &stream{subs: make(map[uint64]*Subscription)}
		h.streams[org] = s
	}
	s.mu.Lock()
	if clientID != "" {
		for id, existing := range s.subs {
			if existing.clientID == clientID {
				delete(s.subs, id)
				replaced = append(replaced, existing)
			}
		}
	}
	sub.id = s.nextID
	s.nextID++
	s.subs[sub.id] = sub
	s.mu.Unlock()
	h.mu.Unlock()

	for _, old := range replaced {
		old.closeChannel(EndReplaced)
		h.metrics.AddActivitySubscribers(context.Background(), -1)
		h.log.Info("activity subscriber replaced", zap.String("org_id", org), zap.String("client_id", clientID))
	}
	h.metrics.AddActivitySubscribers(context.Background(), 1)
	return sub, nil
}

// Run sends heartbeats until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	waiter := h.clock.TickerFunc(ctx, h.heartbeatInterval, func() error {
		h.heartbeat()
		return nil
	}, "activity", "heartbeat")
	err := waiter.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Hub) heartbeat() {
	now := h.clock.Now().UTC()
	ping := Event{Type: TypePing, Timestamp: now}

	var stale []*Subscription
	for _, sub := range h.all() {
		if int(sub.missed.Add(1)) > h.maxMissed {
			stale = append(stale, sub)
			continue
		}
		sub.send(ping)
	}
	for _, sub := range stale {
		h.log.Info("activity subscriber evicted after missed heartbeats",
			zap.String("org_id", sub.orgID),
			zap.String("client_id", sub.clientID),
			zap.Int("max_missed", h.maxMissed),
		)
		sub.closeWith(EndEvicted)
	}
}

// Subscribers returns the live subscriber count for orgID.
func (h *Hub) Subscribers(orgID string) int {
	return len(h.snapshot(strings.TrimSpace(orgID)))
}

func (h *Hub) snapshot(org string) []*Subscription {
	h.mu.RLock()
	s := h.streams[org]
	h.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) all() []*Subscription {
	h.mu.RLock()
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.RUnlock()

	var subs []*Subscription
	for _, s := range streams {
		s.mu.Lock()
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
	}
	return subs
}

func (h *Hub) unsubscribe(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streams[sub.orgID]
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.id] != sub {
		return false
	}
	delete(s.subs, sub.id)
	if len(s.subs) == 0 {
		delete(h.streams, sub.orgID)
	}
	return true
}

// Events is closed when the subscription ends, including eviction and replacement.
func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) ClientID() string { return s.clientID }

// Ack records a heartbeat reply.
func (s *Subscription) Ack() {
	if s == nil {
		return
	}
	s.missed.Store(0)
}

func (s *Subscription) Close() {
	s.closeWith(EndClosed)
}

// Reason is empty while the subscription is live.
func (s *Subscription) Reason() EndReason {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) closeWith(reason EndReason) {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		if s.hub.unsubscribe(s) {
			s.hub.metrics.AddActivitySubscribers(context.Background(), -1)
		}
		s.closeChannel(reason)
	})
}

func (s *Subscription) send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeChannel(reason EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.ch)
}
