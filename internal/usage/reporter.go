package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/pkg/logger"
	"github.com/research-agent/backend/pkg/retry"
)

// Reporter forwards a finished turn's usage to accounting. Failures are
// logged and never returned to the caller.
type Reporter interface {
	Report(ctx context.Context, rec Record)
}

type LocalReporter struct {
	tracker *Tracker
}

func NewLocalReporter(t *Tracker) *LocalReporter {
	return &LocalReporter{tracker: t}
}

func (r *LocalReporter) Report(ctx context.Context, rec Record) {
	if err := r.tracker.Track(ctx, rec); err != nil {
		logger.Error("Failed to track usage",
			zap.String("chat_id", rec.ChatID),
			zap.String("model", rec.Model),
			zap.Error(err),
		)
	}
}

type HTTPReporter struct {
	endpoint   string
	httpClient *http.Client
	retryCfg   retry.Config
}

func NewHTTPReporter(endpoint string, timeout time.Duration) *HTTPReporter {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.Operation = "usage-report"
	cfg.OnRetry = func(int, error) {
		metrics.UpstreamRetries.WithLabelValues("usage-report").Inc()
	}
	cfg.Logger = logger.GetLogger()
	return &HTTPReporter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   cfg,
	}
}

func (r *HTTPReporter) Report(ctx context.Context, rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		logger.Error("Failed to encode usage report", zap.String("chat_id", rec.ChatID), zap.Error(err))
		return
	}

	err = retry.Do(ctx, r.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("usage endpoint returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return retry.Permanent(fmt.Errorf("usage endpoint returned %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to report usage",
			zap.String("chat_id", rec.ChatID),
			zap.String("model", rec.Model),
			zap.Error(err),
		)
	}
}
