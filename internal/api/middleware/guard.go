package middleware

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// GuardConfig tunes FailureGuard.
type GuardConfig struct {
	// MaxFailures within Window blocks the IP.
	MaxFailures int
	Window      time.Duration
	// BlockFor is the first block length; each repeat block doubles it up
	// to MaxBlock.
	BlockFor time.Duration
	MaxBlock time.Duration
}

// DefaultGuardConfig blocks an IP for 5 minutes after 10 failures in 10
// minutes, doubling up to a day for repeat offenders.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxFailures: 10,
		Window:      10 * time.Minute,
		BlockFor:    5 * time.Minute,
		MaxBlock:    24 * time.Hour,
	}
}

type failureRecord struct {
	failures     []time.Time
	blockedUntil time.Time
	nextBlock    time.Duration
}

// BlockedIP is a currently blocked client address.
type BlockedIP struct {
	IP    string    `json:"ip"`
	Until time.Time `json:"until"`
}

// FailureGuard counts authentication failures per client IP and blocks IPs
// that fail too often.
type FailureGuard struct {
	cfg    GuardConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*failureRecord
}

// NewFailureGuard creates a guard with no recorded failures.
func NewFailureGuard(cfg GuardConfig, logger *slog.Logger) *FailureGuard {
	return &FailureGuard{
		cfg:     cfg,
		logger:  logger.With("subsystem", "guard"),
		now:     time.Now,
		records: make(map[string]*failureRecord),
	}
}

// Blocked reports whether ip is inside an active block.
func (g *FailureGuard) Blocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	return ok && g.now().Before(rec.blockedUntil)
}

// Fail records a failed attempt from ip and blocks it once the threshold is
// reached.
func (g *FailureGuard) Fail(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, ok := g.records[ip]
	if !ok {
		rec = &failureRecord{nextBlock: g.cfg.BlockFor}
		g.records[ip] = rec
	}
	if now.Before(rec.blockedUntil) {
		return
	}

	rec.failures = append(withinWindow(rec.failures, now.Add(-g.cfg.Window)), now)
	if len(rec.failures) < g.cfg.MaxFailures {
		return
	}

	rec.failures = nil
	rec.blockedUntil = now.Add(rec.nextBlock)
	g.logger.Warn("blocking ip after repeated authentication failures",
		"ip", ip,
		"until", rec.blockedUntil,
	)
	rec.nextBlock *= 2
	if rec.nextBlock > g.cfg.MaxBlock {
		rec.nextBlock = g.cfg.MaxBlock
	}
}

// Succeed forgets ip's recent failures. The escalated block length is kept.
func (g *FailureGuard) Succeed(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.records[ip]; ok {
		rec.failures = nil
	}
}

// Sweep drops records with no active block and no failures in the window.
func (g *FailureGuard) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.cfg.Window)
	for ip, rec := range g.records {
		rec.failures = withinWindow(rec.failures, cutoff)
		if !now.Before(rec.blockedUntil) && len(rec.failures) == 0 {
			delete(g.records, ip)
		}
	}
}

// BlockedIPs lists active blocks ordered by IP.
func (g *FailureGuard) BlockedIPs() []BlockedIP {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := []BlockedIP{}
	for ip, rec := range g.records {
		if now.Before(rec.blockedUntil) {
			out = append(out, BlockedIP{IP: ip, Until: rec.blockedUntil})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// withinWindow drops timestamps before cutoff. ts is in ascending order.
func withinWindow(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
