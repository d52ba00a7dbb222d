package exchange

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

// restClient issues one HTTP request per call. It never retries.
type restClient struct {
	exchange string
	baseURL  string
	client   *http.Client
	signer   Signer
	logger   *zap.Logger
}

func newRESTClient(exchange, baseURL string, client *http.Client, signer Signer, logger *zap.Logger) *restClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &restClient{
		exchange: exchange,
		baseURL:  baseURL,
		client:   client,
		signer:   signer,
		logger:   logger,
	}
}

// do returns the raw body of a 200 response, or a *domain.RequestFailure.
func (r *restClient) do(ctx context.Context, method, endpoint string, params url.Values, body []byte, signed bool) ([]byte, error) {
	var query string
	var header http.Header
	if signed && r.signer != nil {
		query, header = r.signer.Sign(method, endpoint, params, body)
	} else {
		query = params.Encode()
	}

	target := r.baseURL + endpoint
	if query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, r.fail(method, endpoint, domain.FailureTransport, 0, "", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, r.fail(method, endpoint, domain.FailureTransport, 0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, r.fail(method, endpoint, domain.FailureTransport, resp.StatusCode, "", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, r.fail(method, endpoint, domain.FailureExchange, resp.StatusCode, string(respBody), nil)
	}
	return respBody, nil
}

func (r *restClient) fail(method, endpoint string, kind domain.FailureKind, status int, body string, err error) error {
	metrics.RestErrorsTotal.WithLabelValues(r.exchange, string(kind)).Inc()
	r.logger.Error("REST request failed",
		zap.String("exchange", r.exchange),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("kind", string(kind)),
		zap.Int("status", status),
		zap.String("body", body),
		zap.Error(err),
	)
	return &domain.RequestFailure{
		Exchange:   r.exchange,
		Method:     method,
		Endpoint:   endpoint,
		Kind:       kind,
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}
