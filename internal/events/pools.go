package events

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Pools owns one bounded worker pool per service. Pool sizes come from
// <SERVICE>_MAX_WORKERS environment variables and default to one worker, so
// a service processes items strictly one at a time unless widened.
type Pools struct {
	logger zerolog.Logger

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// NewPools creates an empty pool registry. Pools are created lazily on first
// submit for a service.
func NewPools(logger zerolog.Logger) *Pools {
	return &Pools{
		logger: logger.With().Str("component", "pools").Logger(),
		pools:  make(map[string]*pool.Pool),
	}
}

// Submit hands the job to the service's pool without blocking the caller.
// Jobs beyond the pool's worker count wait their turn; the job func is
// expected to check its context before doing work so cancelled events fall
// through quickly.
func (p *Pools) Submit(service string, job func()) {
	target := p.pool(service)
	go target.Go(job)
}

// Wait blocks until every submitted job has finished. Used on shutdown.
func (p *Pools) Wait() {
	p.mu.Lock()
	pools := make([]*pool.Pool, 0, len(p.pools))
	for _, target := range p.pools {
		pools = append(pools, target)
	}
	p.mu.Unlock()

	for _, target := range pools {
		target.Wait()
	}
}

func (p *Pools) pool(service string) *pool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.pools[service]; ok {
		return existing
	}

	workers := MaxWorkers(service)
	created := pool.New().WithMaxGoroutines(workers)
	p.pools[service] = created
	p.logger.Debug().Str("service", service).Int("workers", workers).Msg("Created worker pool")
	return created
}

// MaxWorkers resolves the worker count for a service from its
// <SERVICE>_MAX_WORKERS environment variable, defaulting to 1.
func MaxWorkers(service string) int {
	env := strings.ToUpper(service) + "_MAX_WORKERS"
	if raw := os.Getenv(env); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
