package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is an HTTP client for a hosted document store bucket
type Client struct {
	baseURL    string
	bucket     string
	readKey    string
	writeKey   string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient creates a new document store client.
func NewClient(baseURL, bucket, readKey, writeKey string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		bucket:   bucket,
		readKey:  readKey,
		writeKey: writeKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// statusError distinguishes HTTP failures so retry logic can tell transient
// server trouble from permanent request errors.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("HTTP %d", e.code)
}

func (c *Client) Find(ctx context.Context, q Query) (*Result, error) {
	filter, err := q.encode()
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	params := url.Values{}
	params.Set("type", q.Type)
	params.Set("query", filter)
	if len(q.Props) > 0 {
		params.Set("props", strings.Join(q.Props, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}

	var result Result
	err = c.request(ctx, http.MethodGet, "/objects?"+params.Encode(), c.readKey, nil, &result)
	if err != nil {
		// The store reports an empty match as 404 on some paths; callers
		// must see both as zero results.
		var se *statusError
		if asStatusError(err, &se) && se.code == http.StatusNotFound {
			return &Result{}, nil
		}
		return nil, err
	}
	return &result, nil
}

func (c *Client) Get(ctx context.Context, objType, id string) (*Object, error) {
	var obj Object
	err := c.request(ctx, http.MethodGet, "/objects/"+url.PathEscape(id)+"?type="+url.QueryEscape(objType), c.readKey, nil, &obj)
	if err != nil {
		var se *statusError
		if asStatusError(err, &se) && se.code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &obj, nil
}

func (c *Client) Insert(ctx context.Context, objType, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal object: %w", err)
	}
	body := Object{ID: id, Type: objType, Data: payload}
	return c.request(ctx, http.MethodPost, "/objects", c.writeKey, body, nil)
}

func (c *Client) Update(ctx context.Context, objType, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal object: %w", err)
	}
	body := Object{ID: id, Type: objType, Data: payload}
	return c.request(ctx, http.MethodPatch, "/objects/"+url.PathEscape(id), c.writeKey, body, nil)
}

func (c *Client) Delete(ctx context.Context, objType, id string) error {
	return c.request(ctx, http.MethodDelete, "/objects/"+url.PathEscape(id)+"?type="+url.QueryEscape(objType), c.writeKey, nil, nil)
}

// request performs one API call with bounded retries on transient failures.
func (c *Client) request(ctx context.Context, method, path, key string, body any, result any) error {
	var reqBody []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = data
	}

	op := func() error {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/buckets/"+c.bucket+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			se := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
			// Retry server-side trouble and store throttling, nothing else.
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return se
			}
			return backoff.Permanent(se)
		}

		if result != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func asStatusError(err error, target **statusError) bool {
	return errors.As(err, target)
}
