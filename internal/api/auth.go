package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and carry the claims of the caller that requested them.
type ticketStore struct {
	cache   *ttlcache.Cache[string, *auth.CustomClaims]
	mu      sync.Mutex
	running bool
}

func newTicketStore(ttl time.Duration) *ticketStore {
	return &ticketStore{
		cache: ttlcache.New[string, *auth.CustomClaims](
			ttlcache.WithTTL[string, *auth.CustomClaims](ttl),
			ttlcache.WithDisableTouchOnHit[string, *auth.CustomClaims](),
		),
	}
}

// start runs expiry cleanup in the background.
func (t *ticketStore) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	go t.cache.Start()
}

// stop ends expiry cleanup. Safe to call when start never ran.
func (t *ticketStore) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.cache.Stop()
}

// issue stores claims under a new ticket.
func (t *ticketStore) issue(claims *auth.CustomClaims) string {
	ticket := generateTicket()
	t.cache.Set(ticket, claims, ttlcache.DefaultTTL)
	return ticket
}

// redeem consumes a ticket, returning its claims if it was live.
func (t *ticketStore) redeem(ticket string) (*auth.CustomClaims, bool) {
	item, ok := t.cache.GetAndDelete(ticket)
	if !ok || item == nil {
		return nil, false
	}
	return item.Value(), true
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without putting its bearer token in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(claimsFromContext(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
