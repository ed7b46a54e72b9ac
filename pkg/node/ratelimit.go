package node

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedClients bounds the limiter map; stale entries are pruned
	// once the bound is hit.
	maxTrackedClients = 10000
	clientIdleExpiry  = 10 * time.Minute
)

// clientLimits hands out one token bucket per client address.
type clientLimits struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimits(limit rate.Limit, burst int) *clientLimits {
	return &clientLimits{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

// allow reports whether the client may proceed, consuming one token.
func (cl *clientLimits) allow(client string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	bucket, ok := cl.clients[client]
	if !ok {
		if len(cl.clients) >= maxTrackedClients {
			cl.prune(now)
		}
		bucket = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// prune drops buckets idle past expiry. Callers hold the lock.
func (cl *clientLimits) prune(now time.Time) {
	for client, bucket := range cl.clients {
		if now.Sub(bucket.lastSeen) > clientIdleExpiry {
			delete(cl.clients, client)
		}
	}
}

// clientKey identifies a client for rate limiting. The port is stripped
// so reconnects share a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
