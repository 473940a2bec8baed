package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"linkwatch/internal/observability"
	"linkwatch/internal/store"

	"go.uber.org/zap"
)

// Result is the outcome of one probe. It is always produced: transport
// failures and timeouts are results, not errors.
type Result struct {
	StatusCode   int
	LatencyMS    int64
	IsHealthy    bool
	HealthStatus string
	ErrorMessage string
}

// Bot-challenge statuses: the target blocked the HEAD probe with an
// anti-automation response, so it is retried as a browser-like GET.
var botChallengeStatuses = map[int]bool{
	http.StatusForbidden:          true, // 403
	http.StatusMethodNotAllowed:   true, // 405
	http.StatusNotAcceptable:      true, // 406
	http.StatusTooManyRequests:    true, // 429
	http.StatusServiceUnavailable: true, // 503
}

// Engine performs browser-emulating HTTP probes. Stateless; safe for
// concurrent use by the whole worker pool.
type Engine struct {
	client            *http.Client
	timeout           time.Duration
	degradedThreshold time.Duration
	logger            *zap.SugaredLogger
}

// NewEngine builds an Engine. Redirects are followed (http.Client default);
// the per-probe deadline is enforced through the request context.
func NewEngine(timeout, degradedThreshold time.Duration, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		client:            &http.Client{},
		timeout:           timeout,
		degradedThreshold: degradedThreshold,
		logger:            logger.With("component", "probe"),
	}
}

// Check probes url: HEAD first, re-issued as GET under the same deadline if
// the response is a bot challenge.
func (e *Engine) Check(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	status, err := e.do(ctx, http.MethodHead, url)

	if err == nil && botChallengeStatuses[status] {
		observability.BotChallengeRetries.Inc()
		e.logger.Debugw("bot challenge, retrying as GET", "url", url, "status", status)

		jitter := time.Duration(100+rand.Float64()*200) * time.Millisecond
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
		}
		status, err = e.do(ctx, http.MethodGet, url)
	}

	latencyMS := time.Since(start).Milliseconds()
	observability.ProbeDuration.Observe(time.Since(start).Seconds())

	var res Result
	if err != nil {
		res = e.failureResult(err, latencyMS)
	} else {
		res = Classify(status, latencyMS, e.degradedThreshold.Milliseconds())
	}
	observability.ProbesTotal.WithLabelValues(res.HealthStatus).Inc()
	return res
}

func (e *Engine) do(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}

	ua := userAgents[rand.IntN(len(userAgents))]
	req.Header = browserHeaders(ua)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// failureResult maps a transport error to a down Result using typed error
// kinds: deadline/timeout yields 408, anything else 0.
func (e *Engine) failureResult(err error, latencyMS int64) Result {
	code := 0
	msg := err.Error()
	if isTimeout(err) {
		code = http.StatusRequestTimeout
		msg = fmt.Sprintf("probe timeout after %dms: %v", e.timeout.Milliseconds(), err)
	}
	return Result{
		StatusCode:   code,
		LatencyMS:    latencyMS,
		IsHealthy:    false,
		HealthStatus: store.StatusDown,
		ErrorMessage: msg,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify is the pure classification function: healthy iff 200 <= status
// < 400, degraded when healthy but slower than the threshold.
func Classify(statusCode int, latencyMS, degradedThresholdMS int64) Result {
	healthy := statusCode >= 200 && statusCode < 400

	status := store.StatusDown
	if healthy {
		status = store.StatusUp
		if latencyMS > degradedThresholdMS {
			status = store.StatusDegraded
		}
	}

	return Result{
		StatusCode:   statusCode,
		LatencyMS:    latencyMS,
		IsHealthy:    healthy,
		HealthStatus: status,
	}
}
