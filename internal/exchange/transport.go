package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/powertraderai/powertrader/internal/exchange/ratelimit"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/metrics"
)

// Do executes an exchange API request: waits for a rate-limit token, records
// metrics, and decodes the JSON body into out (when out is non-nil). Non-2xx
// responses come back as API errors carrying the status code; the body is
// still decoded into out when possible so adapters can read venue error
// payloads.
func Do(ctx context.Context, venue string, client *http.Client, limiter *ratelimit.Bucket, req *http.Request, out interface{}) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			metrics.ExchangeRequests.WithLabelValues(venue, "rate_limited").Inc()
			return pterrors.NewNetworkError(req.URL.String(), err)
		}
	}

	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	metrics.ExchangeLatency.WithLabelValues(venue).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeRequests.WithLabelValues(venue, "network_error").Inc()
		return pterrors.NewNetworkError(req.URL.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ExchangeRequests.WithLabelValues(venue, "network_error").Inc()
		return pterrors.NewNetworkError(req.URL.String(), err)
	}

	if out != nil && len(body) > 0 {
		// Decode errors on failed responses are secondary to the status.
		if err := json.Unmarshal(body, out); err != nil && resp.StatusCode < 300 {
			metrics.ExchangeRequests.WithLabelValues(venue, "api_error").Inc()
			return pterrors.NewDataError("malformed response from "+venue, err)
		}
	}

	if resp.StatusCode >= 300 {
		metrics.ExchangeRequests.WithLabelValues(venue, "api_error").Inc()
		return pterrors.NewAPIError(venue, resp.StatusCode, venue+" request failed", nil)
	}

	metrics.ExchangeRequests.WithLabelValues(venue, "ok").Inc()
	return nil
}
