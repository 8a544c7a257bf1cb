package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ticketTTL bounds how long a minted WebSocket ticket stays
	// redeemable. Clients redeem within milliseconds; a minute covers
	// slow networks without leaving stale tickets around.
	ticketTTL = 60 * time.Second

	// defaultTokenTTLMinutes applies when the config leaves the access
	// token TTL unset.
	defaultTokenTTLMinutes = 15

	// Static dev credentials. The login endpoint is only mounted when a
	// JWT secret is configured; installations without auth never issue
	// tokens at all.
	devUsername = "admin"
	devPassword = "admin"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin checks credentials and returns a signed bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username != devUsername || req.Password != devPassword {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	signed, ttlSeconds, err := s.issueToken(req.Username)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttlSeconds,
	})
}

// issueToken signs an HS256 access token for subject and reports its
// lifetime in seconds.
func (s *Server) issueToken(subject string) (string, int, error) {
	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTLMinutes
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(ttl) * time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(s.secCfg.JWT.Secret))
	if err != nil {
		return "", 0, err
	}
	return signed, ttl * 60, nil
}

// handleWSTicket mints a single-use ticket for upgrading to a WebSocket.
// Browsers cannot attach an Authorization header to the upgrade request,
// so the token is traded for a short-lived ticket instead of putting the
// JWT itself in a URL where it would land in access logs.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // absent when auth disabled

	ticket := s.tickets.mint(subject)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds outstanding WebSocket tickets. Each ticket is
// redeemable once, within ticketTTL of minting.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// mint stores and returns a fresh random ticket bound to subject.
func (t *ticketStore) mint(subject string) string {
	b := make([]byte, 32)
	//nolint:errcheck // crypto/rand.Read cannot fail on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		subject:   subject,
		expiresAt: time.Now().Add(ticketTTL),
	}
	t.mu.Unlock()

	return ticket
}

// validateTicket redeems a ticket. The ticket is deleted whether or not
// it is still within its TTL, so a replay always fails.
func (t *ticketStore) validateTicket(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// cleanLoop drops tickets that were minted but never redeemed. Runs
// until the context is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			t.mu.Lock()
			for ticket, entry := range t.tickets {
				if now.After(entry.expiresAt) {
					delete(t.tickets, ticket)
				}
			}
			t.mu.Unlock()
		}
	}
}
