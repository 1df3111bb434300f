package reportsink

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardsight/cardsight/internal/platform/resilience"
)

var errWebhookTransient = crerr.New("report webhook transient failure")

// WebhookPublisherConfig configures delivery of run reports (ingestion,
// enrichment, refresh) to an operator-owned webhook.
type WebhookPublisherConfig struct {
	WebhookURL     string
	Token          string
	Timeout        time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

type WebhookPublisher struct {
	client         *http.Client
	webhookURL     string
	token          string
	logger         *slog.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewWebhookPublisher(cfg WebhookPublisherConfig, logger *slog.Logger) *WebhookPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &WebhookPublisher{
		client: &http.Client{
			Timeout: timeout,
		},
		webhookURL:     strings.TrimRight(strings.TrimSpace(cfg.WebhookURL), "/"),
		token:          strings.TrimSpace(cfg.Token),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

// Publish posts one run report. Kind names the run ("ingest", "enrich",
// "refresh"); the payload is the report struct the run produced.
func (p *WebhookPublisher) Publish(ctx context.Context, kind string, payload any) error {
	if p.circuitEnabled {
		if err := p.breaker.Allow(); err != nil {
			p.logger.WarnContext(ctx, "report webhook circuit breaker rejected request", "state", p.breaker.State())
			return fmt.Errorf("report webhook is temporarily unavailable: %w", err)
		}
	}

	kind = strings.TrimSpace(kind)
	if kind == "" {
		return crerr.New("report kind is required")
	}

	webhookURL, err := validateHTTPBaseURL(p.webhookURL)
	if err != nil {
		return crerr.Wrap(err, "invalid REPORT_WEBHOOK_URL")
	}

	envelope := map[string]any{
		"kind":        kind,
		"reported_at": time.Now().UTC().Format(time.RFC3339),
		"report":      payload,
	}
	body, err := sonic.Marshal(envelope)
	if err != nil {
		return crerr.Wrap(err, "marshal report payload")
	}
	bodyText := truncateForLog(string(body), 4096)
	curlPreview := buildWebhookCurlPreview(webhookURL, bodyText, p.token != "")

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("report.webhook_url", webhookURL),
			attribute.String("report.kind", kind),
			attribute.String("report.request_body", bodyText),
			attribute.String("report.request_curl_preview", curlPreview),
		)
	}
	p.logger.InfoContext(ctx, "report webhook request", "kind", kind, "webhook_url", webhookURL, "curl_preview", curlPreview)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, strings.NewReader(string(body)))
	if err != nil {
		return crerr.Wrap(err, "create report webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		callErr := fmt.Errorf("%w: publish report kind=%s webhook_url=%s: %v", errWebhookTransient, kind, webhookURL, err)
		p.recordCircuitResult(callErr)
		return callErr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isWebhookRetryableStatus(resp.StatusCode) {
			callErr := fmt.Errorf(
				"%w: publish report kind=%s status=%d webhook_url=%s body=%s",
				errWebhookTransient,
				kind,
				resp.StatusCode,
				webhookURL,
				strings.TrimSpace(string(raw)),
			)
			p.recordCircuitResult(callErr)
			return callErr
		}

		callErr := fmt.Errorf(
			"publish report kind=%s status=%d webhook_url=%s body=%s",
			kind,
			resp.StatusCode,
			webhookURL,
			strings.TrimSpace(string(raw)),
		)
		p.recordCircuitResult(callErr)
		return callErr
	}

	p.logger.InfoContext(ctx, "report published", "kind", kind)
	p.recordCircuitResult(nil)
	return nil
}

func validateHTTPBaseURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", crerr.Wrapf(err, "parse %q", candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("%q uses unsupported scheme=%q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.Newf("%q has empty host", candidate)
	}

	return strings.TrimRight(candidate, "/"), nil
}

func buildWebhookCurlPreview(webhookURL string, body string, withToken bool) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	appendPart := func(part string) {
		if buf.Len() > 0 {
			_ = buf.WriteByte(' ')
		}
		_, _ = buf.WriteString(part)
	}
	appendFlagHeader := func(value string) {
		appendPart("-H")
		appendPart(shellQuote(value))
	}

	appendPart("curl")
	appendPart("-X")
	appendPart("POST")
	appendPart(shellQuote(webhookURL))
	appendFlagHeader("Content-Type: application/json")
	if withToken {
		appendFlagHeader("Authorization: Bearer ***")
	}
	appendPart("-d")
	appendPart(shellQuote(body))

	return buf.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}

func truncateForLog(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...(truncated)"
}

func (p *WebhookPublisher) recordCircuitResult(err error) {
	if !p.circuitEnabled || p.breaker == nil {
		return
	}
	if err == nil {
		p.breaker.RecordSuccess()
		return
	}
	if isWebhookCircuitFailure(err) {
		p.breaker.RecordFailure()
		return
	}
	p.breaker.RecordSuccess()
}

func isWebhookCircuitFailure(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, errWebhookTransient)
}

func isWebhookRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}
