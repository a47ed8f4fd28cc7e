package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RegistryChannel is the NOTIFY channel schema mutations publish on.
// The payload is the entity type id that changed, or empty for a full reload.
const RegistryChannel = "puroteusu_registry_changed"

// RegistryNotifier keeps cached schema metadata consistent across instances.
// It uses PostgreSQL LISTEN/NOTIFY for instant invalidation when entity types
// or attribute definitions change, with a TTL fallback for missed events.
type RegistryNotifier struct {
	mu          sync.RWMutex
	generation  uint64
	db          *sql.DB
	refreshTTL  time.Duration
	lastRefresh time.Time
	listener    *pq.Listener
	connStr     string
	onChange    func(entityTypeID string)
	logger      *zap.SugaredLogger
	stopCh      chan struct{}
	stopped     bool
}

// NewRegistryNotifier creates a new RegistryNotifier.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY.
// refreshTTL is the fallback interval after which cached metadata is
// considered stale even without a notification.
// onChange is invoked with the changed entity type id (empty = everything).
func NewRegistryNotifier(db *sql.DB, connStr string, refreshTTL time.Duration, onChange func(entityTypeID string), logger *zap.SugaredLogger) *RegistryNotifier {
	return &RegistryNotifier{
		db:         db,
		connStr:    connStr,
		refreshTTL: refreshTTL,
		onChange:   onChange,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins listening for registry change notifications.
func (n *RegistryNotifier) Start(ctx context.Context) error {
	n.mu.Lock()
	n.lastRefresh = time.Now()
	n.mu.Unlock()

	if err := n.startListener(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	return nil
}

// Stop stops the RegistryNotifier and cleans up resources.
func (n *RegistryNotifier) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	close(n.stopCh)
	n.mu.Unlock()

	if n.listener != nil {
		return n.listener.Close()
	}
	return nil
}

// Generation returns the current registry generation. The registry service
// embeds the generation in its cache keys, so a bump orphans every cached
// entry at once. If the TTL fallback has elapsed the generation is bumped
// before returning.
func (n *RegistryNotifier) Generation() uint64 {
	n.mu.RLock()
	stale := time.Since(n.lastRefresh) > n.refreshTTL
	n.mu.RUnlock()

	if stale {
		n.bump("")
	}

	return atomic.LoadUint64(&n.generation)
}

// Invalidate bumps the generation locally and publishes a NOTIFY so other
// instances invalidate too. entityTypeID may be empty for a full reload.
func (n *RegistryNotifier) Invalidate(ctx context.Context, entityTypeID string) error {
	n.bump(entityTypeID)

	if n.db == nil {
		return nil
	}

	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", RegistryChannel, entityTypeID); err != nil {
		return fmt.Errorf("failed to publish registry change: %w", err)
	}
	return nil
}

func (n *RegistryNotifier) bump(entityTypeID string) {
	atomic.AddUint64(&n.generation, 1)

	n.mu.Lock()
	n.lastRefresh = time.Now()
	onChange := n.onChange
	n.mu.Unlock()

	if onChange != nil {
		onChange(entityTypeID)
	}
}

// startListener starts the PostgreSQL LISTEN/NOTIFY listener.
func (n *RegistryNotifier) startListener() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil && n.logger != nil {
			// Log but don't fail - the TTL fallback covers missed events
			n.logger.Warnw("registry listener error", "error", err)
		}
	}

	n.listener = pq.NewListener(n.connStr, 10*time.Second, time.Minute, reportProblem)

	if err := n.listener.Listen(RegistryChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", RegistryChannel, err)
	}

	go n.handleNotifications()

	return nil
}

// handleNotifications processes incoming NOTIFY events.
func (n *RegistryNotifier) handleNotifications() {
	for {
		select {
		case <-n.stopCh:
			return
		case notification := <-n.listener.Notify:
			if notification == nil {
				// Connection lost, listener will reconnect automatically
				continue
			}
			n.bump(notification.Extra)
		case <-time.After(90 * time.Second):
			// Periodic ping to keep connection alive
			go func() {
				if err := n.listener.Ping(); err != nil && n.logger != nil {
					n.logger.Warnw("registry listener ping error", "error", err)
				}
			}()
		}
	}
}
