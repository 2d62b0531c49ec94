package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
)

// AuthResult is the outcome of an admin authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResolveAuth returns the admin token from config, then FORDEZ_ADMIN_TOKEN.
func ResolveAuth(cfg config.GatewayAuth) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	return os.Getenv("FORDEZ_ADMIN_TOKEN")
}

// Authorize checks the request's bearer token against the admin token.
func Authorize(serverToken string, r *http.Request) AuthResult {
	if serverToken == "" {
		return AuthResult{Reason: "admin token not configured"}
	}
	token, ok := bearerToken(r)
	if !ok {
		return AuthResult{Reason: "token required"}
	}
	if !safeEqual(token, serverToken) {
		return AuthResult{Reason: "token_mismatch"}
	}
	return AuthResult{OK: true}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// safeEqual performs a constant-time string comparison that does not leak
// the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	stop     chan struct{}
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{failures: make(map[string][]time.Time), stop: make(chan struct{})}
	go rl.periodicCleanup()
	return rl
}

// periodicCleanup removes stale entries every minute until close.
func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		cutoff := time.Now().Add(-authRateWindow)
		for ip, times := range l.failures {
			if filtered := recent(times, cutoff); len(filtered) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = filtered
			}
		}
		l.mu.Unlock()
	}
}

func (l *authRateLimiter) close() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

func recent(times []time.Time, cutoff time.Time) []time.Time {
	filtered := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := recent(l.failures[host], time.Now().Add(-authRateWindow))
	if len(filtered) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Evict the oldest IP when the table is full.
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], time.Now())
}
