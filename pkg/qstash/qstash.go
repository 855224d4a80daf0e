package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SignatureHeader = "Upstash-Signature"

var ErrInvalidSignature = errors.New("qstash: invalid signature")

type Config struct {
	URL               string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token             string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether publishing credentials are present.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	httpClient        *http.Client
	now               func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type PublishRequest struct {
	Destination     string
	Body            []byte
	Delay           time.Duration
	DeduplicationID string
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish enqueues body for delivery to Destination after Delay and returns the message id.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if c.token == "" {
		return "", errors.New("qstash token is required to publish")
	}
	if _, err := url.ParseRequestURI(req.Destination); err != nil {
		return "", fmt.Errorf("qstash destination: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + req.Destination
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Delay > 0 {
		httpReq.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int64(req.Delay.Round(time.Second)/time.Second)))
	}
	if req.DeduplicationID != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", req.DeduplicationID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("qstash publish status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode qstash publish response: %w", err)
	}
	return out.MessageID, nil
}

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verify checks a delivery signature against the current signing key, then the next one
// so deliveries keep working during key rotation. destination is the URL the message was
// published to; an empty destination skips the subject check.
func (c *Client) Verify(signature string, body []byte, destination string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	var errs []error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		err := c.verifyWithKey(signature, body, destination, key)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}
	return fmt.Errorf("%w: %w", ErrInvalidSignature, errors.Join(errs...))
}

func (c *Client) verifyWithKey(signature string, body []byte, destination, key string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(time.Second),
	}
	if destination != "" {
		opts = append(opts, jwt.WithSubject(destination))
	}

	claims := &signatureClaims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return err
	}

	// QStash pads the claim; compare without padding.
	if strings.TrimRight(claims.Body, "=") != BodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// BodyHash is the unpadded base64url SHA-256 digest of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
