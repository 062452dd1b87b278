// Package throttle limits attempts per key under a shared global budget.
package throttle

import (
	"sync"

	"github.com/Laisky/errors/v2"
	"golang.org/x/time/rate"
)

// Config configures a Throttle.
type Config struct {
	TotalNPerSec, TotalBurst     float64
	EachKeyNPerSec, EachKeyBurst float64
}

// Throttle admits an attempt only when both its key and the global budget allow it.
type Throttle struct {
	sync.Mutex
	cfg   Config
	total *rate.Limiter
	keys  *sync.Map
}

// New validates cfg and builds a Throttle.
func New(cfg Config) (*Throttle, error) {
	if cfg.TotalNPerSec <= 0 || cfg.EachKeyNPerSec <= 0 {
		return nil, errors.New("NPerSec must bigger than 0")
	}
	if cfg.TotalBurst < cfg.TotalNPerSec || cfg.EachKeyBurst < 1 {
		return nil, errors.New("burst must bigger than NPerSec")
	}

	return &Throttle{
		cfg:   cfg,
		total: rate.NewLimiter(rate.Limit(cfg.TotalNPerSec), int(cfg.TotalBurst)),
		keys:  new(sync.Map),
	}, nil
}

// Allow consumes one attempt for key.
func (t *Throttle) Allow(key string) bool {
	var lim *rate.Limiter
	if v, ok := t.keys.Load(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		t.Lock()
		if v, ok := t.keys.Load(key); ok {
			lim = v.(*rate.Limiter)
		} else {
			lim = rate.NewLimiter(rate.Limit(t.cfg.EachKeyNPerSec), int(t.cfg.EachKeyBurst))
			t.keys.Store(key, lim)
		}
		t.Unlock()
	}

	return lim.Allow() && t.total.Allow()
}
