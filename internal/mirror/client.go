// Package mirror queries the read-side indexing service of the consensus
// log over its REST API. It only wraps the HTTP surface; paging and cursor
// semantics live in the poller.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"

	// NetworkLocal selects the file-backed ledger instead of a remote
	// query service. It has no base URL.
	NetworkLocal = "local"

	testnetBaseURL = "https://testnet.mirrornode.hedera.com"
	mainnetBaseURL = "https://mainnet-public.mirrornode.hedera.com"

	// DefaultPageLimit is the bounded page size requested per query.
	DefaultPageLimit = 25

	defaultRequestTimeout = 30 * time.Second
)

// BaseURLForNetwork maps a network selector to the public query service
// endpoint. An empty or unknown selector falls back to testnet.
func BaseURLForNetwork(network string) string {
	if network == NetworkMainnet {
		return mainnetBaseURL
	}
	return testnetBaseURL
}

// TransportError wraps a query failure with enough context to resume:
// which topic and from which sequence number the fetch was attempted.
type TransportError struct {
	Op       string
	TopicID  string
	AfterSeq uint64
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mirror %s topic %s after seq %d: %v", e.Op, e.TopicID, e.AfterSeq, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChunkInfo is the per-entry fragment metadata attached when the submitted
// payload was sub-divided by the log's native chunking.
type ChunkInfo struct {
	Number               int    `json:"number"`
	Total                int    `json:"total"`
	InitialTransactionID string `json:"initial_transaction_id"`
}

// Message is one raw log entry as returned by the query service.
type Message struct {
	SequenceNumber     uint64     `json:"sequence_number"`
	ConsensusTimestamp string     `json:"consensus_timestamp"`
	Message            string     `json:"message"`
	ChunkInfo          *ChunkInfo `json:"chunk_info,omitempty"`
}

// Payload decodes the base64 entry body.
func (m Message) Payload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Message)
}

type messagesPage struct {
	Messages []Message `json:"messages"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Client fetches topic messages with a shared request rate limit.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRateLimit bounds outgoing requests per second.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TopicMessages returns up to limit entries of topicID with sequence number
// strictly greater than afterSeq, in ascending order. A full-sized page
// means the caller must re-fetch from the new maximum sequence number.
func (c *Client) TopicMessages(ctx context.Context, topicID string, afterSeq uint64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: "rate-wait", TopicID: topicID, AfterSeq: afterSeq, Err: err}
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("order", "asc")
	query.Set("sequencenumber", "gt:"+strconv.FormatUint(afterSeq, 10))
	endpoint := fmt.Sprintf("%s/api/v1/topics/%s/messages?%s", c.baseURL, url.PathEscape(topicID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "build-request", TopicID: topicID, AfterSeq: afterSeq, Err: err}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get", TopicID: topicID, AfterSeq: afterSeq, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// A topic with no entries yet reports 404 rather than an empty page.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{
			Op: "get", TopicID: topicID, AfterSeq: afterSeq,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body),
		}
	}
	var page messagesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &TransportError{Op: "decode", TopicID: topicID, AfterSeq: afterSeq, Err: err}
	}
	return page.Messages, nil
}
