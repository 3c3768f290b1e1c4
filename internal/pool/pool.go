// Package pool is the global opportunity store: bounded, priority-ordered,
// fingerprint-deduplicated, TTL-scoped, with execution feedback driving
// scoring-weight adaptation.
package pool

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// entry is one pooled opportunity. The heap index is maintained by heap.Interface.
type entry struct {
	opp        *detector.Opportunity
	eval       Evaluation
	scores     backtest.ComponentScores
	score      float64
	admittedAt time.Time
	index      int
}

// entryHeap is a max-heap by composite score; ties break toward the older
// entry. Never exposed outside the pool's lock.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		return h[i].admittedAt.Before(h[j].admittedAt)
	}
	return h[i].score > h[j].score
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Stats is a read-only statistics snapshot for the HTTP surface.
type Stats struct {
	Size      int     `json:"size"`
	Admitted  uint64  `json:"admitted"`
	Rejected  uint64  `json:"rejected"`
	Duplicate uint64  `json:"duplicate"`
	Evicted   uint64  `json:"evicted"`
	Expired   uint64  `json:"expired"`
	Taken     uint64  `json:"taken"`
	AvgScore  float64 `json:"avg_score"`
}

// Criteria are the admission checks, any failure rejects.
type Criteria struct {
	MinProfitBps  float64
	MinLiquidity  float64
	MaxRisk       float64
	MaxDelayMs    float64
	MinConfidence float64
}

// Config holds pool configuration.
type Config struct {
	Capacity      int
	Expiry        time.Duration
	SweepInterval time.Duration
	BacktestEvery int
	Criteria      Criteria
	Weights       backtest.Weights
	Logger        *zap.Logger
}

// Pool is the global opportunity pool.
type Pool struct {
	logger *zap.Logger
	config Config

	mu            sync.RWMutex
	heap          entryHeap
	byFingerprint map[uint64]*entry
	byKind        map[types.StrategyKind]map[uint64]*entry
	byVenue       map[types.Venue]map[uint64]*entry

	weights atomic.Pointer[backtest.Weights]

	engine   *backtest.Engine
	recorded atomic.Uint64
	seenExec sync.Map // execution id -> struct{} for idempotent recording

	takenMu     sync.Mutex
	takenLedger map[string]takenRecord

	admitted  atomic.Uint64
	rejected  atomic.Uint64
	duplicate atomic.Uint64
	evicted   atomic.Uint64
	expired   atomic.Uint64
	taken     atomic.Uint64

	cron   *cron.Cron
	fabric *fabric.Fabric
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a pool wired to the weight engine.
func New(cfg Config, engine *backtest.Engine, bus *fabric.Fabric) *Pool {
	p := &Pool{
		logger:        cfg.Logger,
		config:        cfg,
		byFingerprint: make(map[uint64]*entry),
		byKind:        make(map[types.StrategyKind]map[uint64]*entry),
		byVenue:       make(map[types.Venue]map[uint64]*entry),
		takenLedger:   make(map[string]takenRecord),
		engine:        engine,
		fabric:        bus,
		cron:          cron.New(cron.WithSeconds()),
	}
	w := cfg.Weights.Normalize()
	p.weights.Store(&w)
	return p
}

// Start subscribes to detected opportunities and schedules the expiry sweep.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx = ctx
	p.logger.Info("pool-starting",
		zap.Int("capacity", p.config.Capacity),
		zap.Duration("expiry", p.config.Expiry))

	ch := p.fabric.Subscribe(fabric.TopicOpportunity)
	p.wg.Add(1)
	go p.admitLoop(ch)

	acks := p.fabric.Subscribe(fabric.TopicExecutionAck)
	p.wg.Add(1)
	go p.ackLoop(acks)

	spec := fmt.Sprintf("@every %s", p.config.SweepInterval)
	if _, err := p.cron.AddFunc(spec, func() { p.SweepExpired(time.Now()) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	p.cron.Start()

	return nil
}

// Close stops the sweep and drains the admit loop.
func (p *Pool) Close() error {
	if p.cron != nil {
		p.cron.Stop()
	}
	p.wg.Wait()
	p.logger.Info("pool-closed")
	return nil
}

func (p *Pool) admitLoop(ch <-chan fabric.Envelope) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			opp, ok := env.Payload.(*detector.Opportunity)
			if !ok {
				continue
			}
			if err := p.Admit(opp, time.Now()); err != nil {
				p.logger.Debug("opportunity-rejected",
					zap.String("opportunity-id", opp.ID),
					zap.Error(err))
			}
		}
	}
}

// Weights returns the current scoring weights.
func (p *Pool) Weights() backtest.Weights { return *p.weights.Load() }

// SetWeights swaps the weight tuple atomically, then recomputes every pooled
// entry's score and re-heapifies immediately, under the pool lock.
func (p *Pool) SetWeights(w backtest.Weights) {
	norm := w.Normalize()
	p.weights.Store(&norm)

	p.mu.Lock()
	for _, e := range p.heap {
		e.score = score(e.scores, norm, e.eval.Priority)
	}
	heap.Init(&p.heap)
	p.mu.Unlock()

	WeightGauge.WithLabelValues("profit").Set(norm.Profit)
	WeightGauge.WithLabelValues("liquidity").Set(norm.Liquidity)
	WeightGauge.WithLabelValues("latency").Set(norm.Latency)
	WeightGauge.WithLabelValues("confidence").Set(norm.Confidence)
	WeightGauge.WithLabelValues("risk_inv").Set(norm.RiskInv)
	WeightGauge.WithLabelValues("freshness").Set(norm.Freshness)
}

// Admit evaluates, checks criteria, deduplicates, and inserts. At capacity
// the lowest-scoring entry is evicted if the newcomer scores higher;
// otherwise the newcomer is rejected upstream.
func (p *Pool) Admit(opp *detector.Opportunity, now time.Time) error {
	if !opp.Valid(now) {
		p.rejected.Add(1)
		RejectionsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("invalid opportunity")
	}

	eval := evaluate(opp)
	if reason, ok := p.checkCriteria(opp, eval); !ok {
		p.rejected.Add(1)
		RejectionsTotal.WithLabelValues(reason).Inc()
		return fmt.Errorf("admission rejected: %s", reason)
	}

	scores := components(opp, eval, now)
	sc := score(scores, p.Weights(), eval.Priority)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Duplicate fingerprints resolve in favor of the incumbent.
	if _, exists := p.byFingerprint[opp.Fingerprint]; exists {
		p.duplicate.Add(1)
		RejectionsTotal.WithLabelValues("duplicate_fingerprint").Inc()
		return fmt.Errorf("duplicate fingerprint %x", opp.Fingerprint)
	}

	if len(p.heap) >= p.config.Capacity {
		lowest := p.lowestLocked()
		if lowest.score >= sc {
			p.rejected.Add(1)
			RejectionsTotal.WithLabelValues("capacity_low_score").Inc()
			return fmt.Errorf("pool full and score %.4f not above minimum %.4f", sc, lowest.score)
		}
		p.removeLocked(lowest, causeCapacity)
		p.evicted.Add(1)
	}

	e := &entry{opp: opp, eval: eval, scores: scores, score: sc, admittedAt: now}
	heap.Push(&p.heap, e)
	p.byFingerprint[opp.Fingerprint] = e
	groupAdd(p.byKind, opp.Kind, e)
	for _, leg := range opp.Legs {
		groupAdd(p.byVenue, leg.Venue, e)
	}

	p.admitted.Add(1)
	SizeGauge.Set(float64(len(p.heap)))
	return nil
}

func (p *Pool) checkCriteria(opp *detector.Opportunity, eval Evaluation) (string, bool) {
	c := p.config.Criteria
	switch {
	case opp.NetProfitBps < c.MinProfitBps:
		return "profit_below_min", false
	case eval.Liquidity < c.MinLiquidity:
		return "liquidity_below_min", false
	case eval.Risk > c.MaxRisk:
		return "risk_above_max", false
	case eval.ExpectedDelayMs > c.MaxDelayMs:
		return "delay_above_max", false
	case eval.Confidence < c.MinConfidence:
		return "confidence_below_min", false
	default:
		return "", true
	}
}

// TakeBest removes and returns the highest-scoring live opportunity.
func (p *Pool) TakeBest(now time.Time) (*detector.Opportunity, Evaluation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.heap) > 0 {
		best := p.heap[0]
		if best.opp.Deadline.Before(now) {
			p.removeLocked(best, causeExpired)
			p.expired.Add(1)
			continue
		}
		p.removeLocked(best, causeTaken)
		p.taken.Add(1)
		TakenTotal.WithLabelValues(string(best.opp.Kind)).Inc()
		clone := cloneOpportunity(best.opp)
		p.noteTaken(clone, best.eval)
		return clone, best.eval, true
	}
	return nil, Evaluation{}, false
}

// TakeBestByKind removes and returns the highest-scoring live opportunity of
// one strategy kind.
func (p *Pool) TakeBestByKind(kind types.StrategyKind, now time.Time) (*detector.Opportunity, Evaluation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	group := p.byKind[kind]
	var best *entry
	for _, e := range group {
		if e.opp.Deadline.Before(now) {
			continue
		}
		if best == nil || e.score > best.score {
			best = e
		}
	}
	if best == nil {
		return nil, Evaluation{}, false
	}

	p.removeLocked(best, causeTaken)
	p.taken.Add(1)
	TakenTotal.WithLabelValues(string(kind)).Inc()
	clone := cloneOpportunity(best.opp)
	p.noteTaken(clone, best.eval)
	return clone, best.eval, true
}

// SweepExpired drops entries past their deadline, plus any entry that has
// sat in the pool beyond the configured expiry regardless of its deadline.
func (p *Pool) SweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var doomed []*entry
	for _, e := range p.heap {
		if e.opp.Deadline.Before(now) ||
			(p.config.Expiry > 0 && now.Sub(e.admittedAt) > p.config.Expiry) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		p.removeLocked(e, causeExpired)
		p.expired.Add(1)
	}

	SizeGauge.Set(float64(len(p.heap)))
	return len(doomed)
}

// Contains reports whether a fingerprint is currently pooled.
func (p *Pool) Contains(fingerprint uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byFingerprint[fingerprint]
	return ok
}

// Size returns the live entry count.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.heap)
}

// Stats returns a statistics snapshot.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	size := len(p.heap)
	sum := 0.0
	for _, e := range p.heap {
		sum += e.score
	}
	p.mu.RUnlock()

	avg := 0.0
	if size > 0 {
		avg = sum / float64(size)
	}
	return Stats{
		Size:      size,
		Admitted:  p.admitted.Load(),
		Rejected:  p.rejected.Load(),
		Duplicate: p.duplicate.Load(),
		Evicted:   p.evicted.Load(),
		Expired:   p.expired.Load(),
		Taken:     p.taken.Load(),
		AvgScore:  avg,
	}
}

// Removal causes. Takes are counted by TakenTotal; the rest land in
// EvictionsTotal under their cause label.
const (
	causeCapacity = "capacity"
	causeExpired  = "expired"
	causeTaken    = "taken"
)

// removeLocked detaches an entry from the heap, the fingerprint index, and
// every grouping in one critical section, and records the removal cause.
func (p *Pool) removeLocked(e *entry, cause string) {
	if e.index >= 0 {
		heap.Remove(&p.heap, e.index)
	}
	delete(p.byFingerprint, e.opp.Fingerprint)
	groupRemove(p.byKind, e.opp.Kind, e)
	for _, leg := range e.opp.Legs {
		groupRemove(p.byVenue, leg.Venue, e)
	}
	if cause != causeTaken {
		EvictionsTotal.WithLabelValues(cause).Inc()
	}
}

func (p *Pool) lowestLocked() *entry {
	var lowest *entry
	for _, e := range p.heap {
		if lowest == nil || e.score < lowest.score {
			lowest = e
		}
	}
	return lowest
}

func groupAdd[K comparable](m map[K]map[uint64]*entry, key K, e *entry) {
	g, ok := m[key]
	if !ok {
		g = make(map[uint64]*entry)
		m[key] = g
	}
	g[e.opp.Fingerprint] = e
}

func groupRemove[K comparable](m map[K]map[uint64]*entry, key K, e *entry) {
	delete(m[key], e.opp.Fingerprint)
}

// cloneOpportunity hands takers a fresh owned copy.
func cloneOpportunity(opp *detector.Opportunity) *detector.Opportunity {
	clone := *opp
	clone.Legs = make([]types.ExecutionLeg, len(opp.Legs))
	copy(clone.Legs, opp.Legs)
	return &clone
}
