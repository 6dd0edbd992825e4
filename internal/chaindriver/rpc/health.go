package rpc

import (
	"sync"
	"time"
)

// SimpleHealthTracker implements HealthTracker with a circuit-breaker:
// opens after failureThreshold consecutive failures, closes after
// successThreshold consecutive successes, and re-allows traffic after
// circuitOpenWindow has elapsed since the last failure.
type SimpleHealthTracker struct {
	mu     sync.RWMutex
	health map[string]*EndpointHealth

	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

// NewSimpleHealthTracker creates a health tracker with the pipeline's
// standard thresholds.
func NewSimpleHealthTracker() *SimpleHealthTracker {
	return &SimpleHealthTracker{
		health:            make(map[string]*EndpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *SimpleHealthTracker) RecordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.SuccessfulCalls++
	h.LastSuccess = time.Now().Unix()

	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = durationMs
	} else {
		h.AvgLatencyMs = (h.AvgLatencyMs*9 + durationMs) / 10
	}

	if h.CircuitOpen {
		consecutiveSuccesses := h.SuccessfulCalls - h.FailedCalls
		if consecutiveSuccesses >= int64(t.successThreshold) {
			h.CircuitOpen = false
		}
	}
}

func (t *SimpleHealthTracker) RecordFailure(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.FailedCalls++
	h.LastFailure = time.Now().Unix()

	consecutiveFailures := h.FailedCalls - h.SuccessfulCalls
	if consecutiveFailures >= int64(t.failureThreshold) {
		h.CircuitOpen = true
	}
}

func (t *SimpleHealthTracker) IsHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.health[endpoint]
	if !exists {
		return true
	}
	if h.CircuitOpen {
		if time.Now().Unix()-h.LastFailure < int64(t.circuitOpenWindow.Seconds()) {
			return false
		}
	}
	return true
}

func (t *SimpleHealthTracker) GetBestEndpoint(endpoints []string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best string
	bestScore := -1.0

	for _, endpoint := range endpoints {
		if !t.isHealthyLocked(endpoint) {
			continue
		}
		h, exists := t.health[endpoint]
		if !exists {
			return endpoint
		}
		successRate := float64(h.SuccessfulCalls) / float64(h.TotalCalls)
		latencyFactor := 1.0 / (float64(h.AvgLatencyMs) + 1.0)
		score := successRate*0.7 + latencyFactor*0.3
		if score > bestScore {
			bestScore = score
			best = endpoint
		}
	}
	if best == "" && len(endpoints) > 0 {
		return endpoints[0]
	}
	return best
}

func (t *SimpleHealthTracker) isHealthyLocked(endpoint string) bool {
	h, exists := t.health[endpoint]
	if !exists {
		return true
	}
	if h.CircuitOpen {
		return time.Now().Unix()-h.LastFailure >= int64(t.circuitOpenWindow.Seconds())
	}
	return true
}

func (t *SimpleHealthTracker) Reset(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.health, endpoint)
}

// GetHealth returns a copy of an endpoint's health snapshot for
// introspection/metrics.
func (t *SimpleHealthTracker) GetHealth(endpoint string) EndpointHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.health[endpoint]
	if !exists {
		return EndpointHealth{Endpoint: endpoint}
	}
	return *h
}

func (t *SimpleHealthTracker) getOrCreate(endpoint string) *EndpointHealth {
	h, exists := t.health[endpoint]
	if !exists {
		h = &EndpointHealth{Endpoint: endpoint}
		t.health[endpoint] = h
	}
	return h
}
