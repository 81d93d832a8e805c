package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
)

// Monitor polls registered transports and announces idleness on the event
// bus. A session is idle when its screen hash stays unchanged for
// IdleThreshold consecutive polls; idleness is announced once per quiet
// period and re-arms as soon as the screen changes again.
type Monitor struct {
	registry *Registry
	eventBus bus.EventBus
	logger   *logger.Logger

	interval  time.Duration
	threshold int

	hashes    map[string]string
	stable    map[string]int
	announced map[string]bool
}

// MonitorConfig controls poll cadence and idle sensitivity.
type MonitorConfig struct {
	Interval      time.Duration
	IdleThreshold int
}

func NewMonitor(registry *Registry, eventBus bus.EventBus, cfg MonitorConfig, log *logger.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 3
	}
	return &Monitor{
		registry:  registry,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "session-monitor")),
		interval:  cfg.Interval,
		threshold: cfg.IdleThreshold,
		hashes:    make(map[string]string),
		stable:    make(map[string]int),
		announced: make(map[string]bool),
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	ids := m.registry.IDs()
	contents := make([]string, len(ids))
	ok := make([]bool, len(ids))

	// Capture screens concurrently; a stuck tmux server must not stall
	// the whole poll round.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			tr, err := m.registry.Get(id)
			if err != nil {
				return nil
			}
			content, err := tr.ScreenContent(gctx)
			if err != nil {
				m.logger.Debug("screen read failed", zap.String("session_id", id), zap.Error(err))
				return nil
			}
			contents[i] = content
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if ok[i] {
			m.observe(ctx, id, contents[i])
		}
	}

	// Drop state for sessions that disappeared.
	live := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		live[id] = struct{}{}
	}
	for id := range m.hashes {
		if _, ok := live[id]; !ok {
			delete(m.hashes, id)
			delete(m.stable, id)
			delete(m.announced, id)
		}
	}
}

// observe updates change tracking for one session and emits an idle event
// when the quiet threshold is crossed.
func (m *Monitor) observe(ctx context.Context, sessionID, content string) {
	hash := hashScreen(content)

	if m.hashes[sessionID] != hash {
		m.hashes[sessionID] = hash
		m.stable[sessionID] = 0
		m.announced[sessionID] = false
		return
	}

	m.stable[sessionID]++
	if m.stable[sessionID] < m.threshold || m.announced[sessionID] {
		return
	}
	m.announced[sessionID] = true

	m.logger.Debug("session went idle", zap.String("session_id", sessionID))
	event := bus.NewEvent(events.SessionIdle, "session-monitor", map[string]interface{}{
		"session_id": sessionID,
	})
	subject := events.BuildSessionSubject(events.SessionIdle, sessionID)
	if err := m.eventBus.Publish(ctx, subject, event); err != nil {
		m.logger.Warn("failed to publish idle event", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// hashScreen hashes screen content with trailing whitespace normalized per
// line, so pane resizes alone do not register as activity.
func hashScreen(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
