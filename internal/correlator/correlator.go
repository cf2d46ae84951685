package correlator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/callaudit/audit-service/internal/events"
	"github.com/callaudit/audit-service/internal/metrics"
)

// Bundle is the in-progress set of analysis inputs for one call. A bundle is
// complete when all three pointers are non-nil.
type Bundle struct {
	Transcript *events.Transcription
	Sentiment  *events.Sentiment
	Insight    *events.VoiceInsight
	FirstSeen  time.Time
}

func (b Bundle) complete() bool {
	return b.Transcript != nil && b.Sentiment != nil && b.Insight != nil
}

// CompleteFunc receives a completed triple exactly once per call ID. It runs
// on the delivery goroutine that supplied the final input. The correlator has
// already dropped the bundle by the time this runs; recovery from downstream
// failures is the handler's problem, not the correlator's.
type CompleteFunc func(ctx context.Context, callID string, b Bundle)

const shardCount = 16

// shard guards a slice of the call ID space so unrelated calls never contend
// on one lock.
type shard struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
}

// Correlator joins the three independently-arriving analysis inputs per call
// and hands each completed triple off exactly once. Bundles that never
// complete are evicted after a TTL.
type Correlator struct {
	shards     [shardCount]shard
	ttl        time.Duration
	sweepEvery time.Duration
	onComplete CompleteFunc

	done chan struct{}
}

func New(ttl, sweepEvery time.Duration, onComplete CompleteFunc) *Correlator {
	c := &Correlator{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i].bundles = make(map[string]*Bundle)
	}
	return c
}

// AddTranscription records the transcript input for a call. A redelivered
// duplicate overwrites the stored copy; inputs are immutable upstream so
// last-write-wins is safe.
func (c *Correlator) AddTranscription(ctx context.Context, t *events.Transcription) {
	c.upsert(ctx, t.CallID, func(b *Bundle) { b.Transcript = t })
}

// AddSentiment records the sentiment input for a call.
func (c *Correlator) AddSentiment(ctx context.Context, s *events.Sentiment) {
	c.upsert(ctx, s.CallID, func(b *Bundle) { b.Sentiment = s })
}

// AddInsight records the customer-voice insight input for a call.
func (c *Correlator) AddInsight(ctx context.Context, v *events.VoiceInsight) {
	c.upsert(ctx, v.CallID, func(b *Bundle) { b.Insight = v })
}

func (c *Correlator) upsert(ctx context.Context, callID string, set func(*Bundle)) {
	sh := c.shard(callID)

	sh.mu.Lock()
	b, ok := sh.bundles[callID]
	if !ok {
		b = &Bundle{FirstSeen: time.Now()}
		sh.bundles[callID] = b
		metrics.BundlesActive.Inc()
	}
	set(b)

	if !b.complete() {
		sh.mu.Unlock()
		return
	}

	// Atomic check-and-remove under the shard lock: whichever delivery
	// goroutine observes the bundle complete first wins the handoff, and the
	// bundle is gone before the lock is released.
	delete(sh.bundles, callID)
	handoff := *b
	sh.mu.Unlock()
	metrics.BundlesActive.Dec()

	slog.Info("bundle complete, handing off",
		"call_id", callID,
		"waited", time.Since(handoff.FirstSeen),
	)
	c.onComplete(ctx, callID, handoff)
}

func (c *Correlator) shard(callID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return &c.shards[h.Sum32()%shardCount]
}

// Len returns the number of bundles currently buffered (for health checks).
func (c *Correlator) Len() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		n += len(c.shards[i].bundles)
		c.shards[i].mu.Unlock()
	}
	return n
}

// Start begins the periodic eviction sweep.
func (c *Correlator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-ctx.Done():
				close(c.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper goroutine has exited.
func (c *Correlator) Wait() {
	<-c.done
}

// sweep evicts bundles that have waited longer than the TTL for their missing
// inputs. Eviction shares the shard locks with completion, so an eviction can
// never race an in-flight handoff for the same call.
func (c *Correlator) sweep() {
	cutoff := time.Now().Add(-c.ttl)

	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for callID, b := range sh.bundles {
			if b.FirstSeen.After(cutoff) {
				continue
			}
			delete(sh.bundles, callID)
			metrics.BundlesActive.Dec()
			metrics.BundlesExpired.Inc()
			slog.Warn("evicting abandoned bundle",
				"call_id", callID,
				"age", time.Since(b.FirstSeen),
				"have_transcript", b.Transcript != nil,
				"have_sentiment", b.Sentiment != nil,
				"have_insight", b.Insight != nil,
			)
		}
		sh.mu.Unlock()
	}
}
