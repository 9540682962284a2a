package risk

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// CorrelationEstimator maintains EWMA estimates of per-pair return variance
// and pairwise covariance. Returns are assumed zero-mean over the estimation
// horizon, the usual simplification for high-frequency return series.
type CorrelationEstimator struct {
	mu         sync.RWMutex
	lambda     float64 // decay factor, e.g. 0.94
	defaultVol float64 // volatility assumed for unseen pairs

	vars map[string]float64   // pair -> EWMA variance
	covs map[string]float64   // covKey(a,b) -> EWMA covariance
	last map[string]float64   // pair -> most recent return
	seen map[string]time.Time // pair -> last observation time
}

// NewCorrelationEstimator creates an estimator with the given decay factor.
// Lambda outside (0,1) falls back to 0.94.
func NewCorrelationEstimator(lambda, defaultVol float64) *CorrelationEstimator {
	if lambda <= 0 || lambda >= 1 {
		lambda = 0.94
	}
	if defaultVol <= 0 {
		defaultVol = 0.05
	}
	return &CorrelationEstimator{
		lambda:     lambda,
		defaultVol: defaultVol,
		vars:       make(map[string]float64),
		covs:       make(map[string]float64),
		last:       make(map[string]float64),
		seen:       make(map[string]time.Time),
	}
}

func covKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ObserveReturn folds one period return for a pair into the variance estimate
// and into the covariance estimates against every other tracked pair's most
// recent return.
func (e *CorrelationEstimator) ObserveReturn(pair string, ret float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := e.vars[pair]; ok {
		e.vars[pair] = e.lambda*v + (1-e.lambda)*ret*ret
	} else {
		e.vars[pair] = ret * ret
	}

	for other, otherRet := range e.last {
		if other == pair {
			continue
		}
		key := covKey(pair, other)
		if c, ok := e.covs[key]; ok {
			e.covs[key] = e.lambda*c + (1-e.lambda)*ret*otherRet
		} else {
			e.covs[key] = ret * otherRet
		}
	}

	e.last[pair] = ret
	e.seen[pair] = time.Now()
}

// Seed installs a correlation estimate directly, e.g. bootstrapped from
// historical data before live returns arrive. Unknown pairs get the default
// volatility.
func (e *CorrelationEstimator) Seed(a, b string, corr float64) {
	if a == b {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.vars[a]; !ok {
		e.vars[a] = e.defaultVol * e.defaultVol
	}
	if _, ok := e.vars[b]; !ok {
		e.vars[b] = e.defaultVol * e.defaultVol
	}
	e.covs[covKey(a, b)] = corr * math.Sqrt(e.vars[a]) * math.Sqrt(e.vars[b])
	now := time.Now()
	e.seen[a] = now
	e.seen[b] = now
}

// SeedVolatility installs a volatility estimate for a pair.
func (e *CorrelationEstimator) SeedVolatility(pair string, vol float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[pair] = vol * vol
	e.seen[pair] = time.Now()
}

// Correlation returns the estimated correlation between two pairs. The second
// return value is false when either variance or the covariance is unknown.
func (e *CorrelationEstimator) Correlation(a, b string) (float64, bool) {
	if a == b {
		return 1, true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	va, okA := e.vars[a]
	vb, okB := e.vars[b]
	cov, okC := e.covs[covKey(a, b)]
	if !okA || !okB || !okC || va <= 0 || vb <= 0 {
		return 0, false
	}
	corr := cov / (math.Sqrt(va) * math.Sqrt(vb))
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return corr, true
}

// Volatility returns the estimated volatility for a pair, or the default when
// the pair has never been observed.
func (e *CorrelationEstimator) Volatility(pair string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.vars[pair]; ok && v > 0 {
		return math.Sqrt(v)
	}
	return e.defaultVol
}

// Pairs returns the tracked pairs in sorted order.
func (e *CorrelationEstimator) Pairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pairs := make([]string, 0, len(e.vars))
	for p := range e.vars {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

// Matrix returns the full correlation matrix over all tracked pairs, with a
// unit diagonal and zeros where no estimate exists.
func (e *CorrelationEstimator) Matrix() map[string]map[string]float64 {
	pairs := e.Pairs()
	out := make(map[string]map[string]float64, len(pairs))
	for _, a := range pairs {
		row := make(map[string]float64, len(pairs))
		for _, b := range pairs {
			if a == b {
				row[b] = 1
				continue
			}
			if corr, ok := e.Correlation(a, b); ok {
				row[b] = corr
			} else {
				row[b] = 0
			}
		}
		out[a] = row
	}
	return out
}

// Prune drops pairs not observed within maxAge along with their covariances.
func (e *CorrelationEstimator) Prune(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for pair, last := range e.seen {
		if last.Before(cutoff) {
			removed = append(removed, pair)
		}
	}
	for _, pair := range removed {
		delete(e.vars, pair)
		delete(e.last, pair)
		delete(e.seen, pair)
	}
	if len(removed) > 0 {
		for key := range e.covs {
			parts := strings.SplitN(key, "|", 2)
			if _, okA := e.vars[parts[0]]; !okA {
				delete(e.covs, key)
				continue
			}
			if _, okB := e.vars[parts[1]]; !okB {
				delete(e.covs, key)
			}
		}
	}
	return len(removed)
}
