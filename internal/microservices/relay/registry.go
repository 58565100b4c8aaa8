package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RoleEntry describes one registered role, as exposed by the admin API.
type RoleEntry struct {
	Role         string    `json:"role"`
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_addr"`
	RegisteredAt time.Time `json:"registered_at"`
}

type registration struct {
	conn *Connection
	at   time.Time
}

// Registry maps a role to the connection that currently claims it.
// It holds non-owning references: closing connections is the handler's job.
type Registry struct {
	roles map[string]registration
	// one entry per role, the latest REGISTER wins
	mu     sync.Mutex
	logger *slog.Logger
}

// constructor for Registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		roles:  make(map[string]registration),
		logger: logger,
	}
}

// Register stores conn under role and returns the connection it displaced,
// if any. The displaced connection is neither notified nor closed.
func (r *Registry) Register(role string, conn *Connection) *Connection {
	r.mu.Lock()
	prev, existed := r.roles[role]
	r.roles[role] = registration{conn: conn, at: time.Now()}
	r.mu.Unlock()

	if existed && prev.conn != conn {
		r.logger.Warn("role_replaced",
			"role", role,
			"client_id", conn.ID,
			"replaced_client_id", prev.conn.ID,
		)
		return prev.conn
	}
	r.logger.Info("role_registered",
		"role", role,
		"client_id", conn.ID,
	)
	return nil
}

// Unregister removes role only while it still points at conn, so a handler
// that lost its role to a newer connection cannot evict the newcomer.
func (r *Registry) Unregister(role string, conn *Connection) {
	r.mu.Lock()
	current, ok := r.roles[role]
	removed := ok && current.conn == conn
	if removed {
		delete(r.roles, role)
	}
	r.mu.Unlock()

	if removed {
		r.logger.Info("role_unregistered",
			"role", role,
			"client_id", conn.ID,
		)
	}
}

// Lookup returns the connection registered under role.
func (r *Registry) Lookup(role string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.roles[role]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// Len returns the number of registered roles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roles)
}

// Snapshot lists the registered roles sorted by name.
func (r *Registry) Snapshot() []RoleEntry {
	r.mu.Lock()
	entries := make([]RoleEntry, 0, len(r.roles))
	for role, reg := range r.roles {
		entries = append(entries, RoleEntry{
			Role:         role,
			ConnectionID: reg.conn.ID,
			RemoteAddr:   reg.conn.RemoteAddr(),
			RegisteredAt: reg.at,
		})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Role < entries[j].Role })
	return entries
}
