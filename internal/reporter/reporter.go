package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/model"
)

// Reporter delivers observations to an ingest endpoint over HTTP. It tries
// each candidate base URL once, in order, with a short per-attempt timeout
// and no retry loop: delivery is best-effort and must never stall a
// protocol session.
type Reporter struct {
	urls   []string
	token  string
	header string
	client *http.Client
}

func New(cfg *config.IngestConfig) *Reporter {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Reporter{
		urls:   cfg.UpstreamURLs,
		token:  cfg.Token(),
		header: cfg.TokenHeader,
		client: &http.Client{Timeout: timeout},
	}
}

// Submit implements model.Sink.
func (r *Reporter) Submit(ctx context.Context, obs model.Observation) error {
	body, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}

	var lastErr error
	for _, base := range r.urls {
		if err := r.post(ctx, base, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no upstream URLs configured")
	}
	return fmt.Errorf("deliver observation: %w", lastErr)
}

func (r *Reporter) post(ctx context.Context, base string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/events/internal", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(r.header, r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", base, resp.StatusCode)
	}
	return nil
}
