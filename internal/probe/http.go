package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

// HTTPClient wraps http.Client with the probe's timeout and client identity.
type HTTPClient struct {
	client   *http.Client
	clientID string
}

func newHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		client:   &http.Client{Timeout: cfg.Timeout},
		clientID: cfg.ClientID,
	}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		req.Header.Set("X-Forwarded-For", c.clientID)
	}
	return c.client.Do(req)
}

type outcome struct {
	status int
	code   string
	rate   RateHeaders
	err    error
}

type errorBody struct {
	Code string `json:"code"`
}

func submitOne(ctx context.Context, client *HTTPClient, url string, sub Submission) outcome {
	resp, err := client.Post(ctx, url, sub)
	if err != nil {
		return outcome{err: err}
	}
	defer resp.Body.Close()

	o := outcome{
		status: resp.StatusCode,
		rate: RateHeaders{
			Limit:      resp.Header.Get("X-RateLimit-Limit"),
			Remaining:  resp.Header.Get("X-RateLimit-Remaining"),
			Reset:      resp.Header.Get("X-RateLimit-Reset"),
			RetryAfter: resp.Header.Get("Retry-After"),
		},
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var body errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
		if json.Unmarshal(data, &body) == nil {
			o.code = body.Code
		}
	}
	return o
}

// submitAll sends cfg.Count submissions over cfg.Workers goroutines.
func submitAll(ctx context.Context, cfg Config, report *Report) {
	client := newHTTPClient(cfg)
	url := cfg.BaseURL + "/api/" + cfg.Endpoint
	sub := Submission{Name: cfg.Name, Email: cfg.Email, Message: cfg.Message, CaptchaToken: cfg.Token}

	var (
		sent   int64
		failed int64
		mu     sync.Mutex
		wg     sync.WaitGroup
		lowest = -1
	)

	jobs := make(chan struct{}, cfg.Workers*workerChannelMultiplier)
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if ctx.Err() != nil {
					return
				}
				o := submitOne(ctx, client, url, sub)
				atomic.AddInt64(&sent, 1)
				if o.err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}

				mu.Lock()
				report.ByStatus[o.status]++
				if o.code != "" {
					report.ByCode[o.code]++
				}
				if rem, err := strconv.Atoi(o.rate.Remaining); err == nil && (lowest < 0 || rem < lowest) {
					lowest = rem
					report.Last = o.rate
				} else if o.rate.RetryAfter != "" {
					report.Last.RetryAfter = o.rate.RetryAfter
				}
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Count; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- struct{}{}:
			}
		}
	}()

	wg.Wait()
	report.Sent = int(atomic.LoadInt64(&sent))
	report.Failed = int(atomic.LoadInt64(&failed))
}
