package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"guess-who/internal/config"
	"guess-who/internal/constants"

	"github.com/valyala/fasthttp"
)

// NullETag is the ETag the realtime database reports for an absent location.
// A conditional write against it succeeds only if nothing exists yet.
const NullETag = "null_etag"

var ErrPreconditionFailed = errors.New("firebase: etag mismatch")

// FirebaseClient talks to the Firebase Realtime Database REST API.
type FirebaseClient struct {
	baseURL   string
	authToken string
	client    *fasthttp.Client
	// timeout bounds requests whose context carries no deadline.
	timeout time.Duration
}

func NewFirebaseClient(cfg *config.Config) *FirebaseClient {
	return NewFirebaseClientWith(cfg.FirebaseURL, cfg.FirebaseAuthToken, &fasthttp.Client{
		MaxConnsPerHost:     64,
		ReadTimeout:         constants.ExternalAPITimeout,
		WriteTimeout:        constants.ExternalAPITimeout,
		MaxIdleConnDuration: 1 * time.Minute,
	})
}

func NewFirebaseClientWith(baseURL, authToken string, client *fasthttp.Client) *FirebaseClient {
	return &FirebaseClient{
		baseURL:   baseURL,
		authToken: authToken,
		client:    client,
		timeout:   constants.ExternalAPITimeout,
	}
}

// LiveDocument is the JSON shape stored under games/{sessionId}.
type LiveDocument struct {
	Turn      int                          `json:"turn"`
	Version   int64                        `json:"version"`
	Boards    map[string]map[string]string `json:"boards"`
	UpdatedAt int64                        `json:"updatedAt"`
}

// GetLiveState returns the document (nil when absent) and the ETag to condition the next write on.
func (c *FirebaseClient) GetLiveState(ctx context.Context, sessionID string) (*LiveDocument, string, error) {
	return doRequest[LiveDocument](ctx, c, fasthttp.MethodGet, c.url("games", sessionID), "", nil)
}

// PutLiveState replaces the document only if its current ETag still equals etag.
func (c *FirebaseClient) PutLiveState(ctx context.Context, sessionID, etag string, doc *LiveDocument) (string, error) {
	_, newTag, err := doRequest[LiveDocument](ctx, c, fasthttp.MethodPut, c.url("games", sessionID), etag, doc)
	return newTag, err
}

func (c *FirebaseClient) url(parts ...string) string {
	path := c.baseURL
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	path += ".json"
	if c.authToken != "" {
		path += "?auth=" + url.QueryEscape(c.authToken)
	}
	return path
}

func doRequest[T any](ctx context.Context, client *FirebaseClient, method, uri, ifMatch string, body any) (*T, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("X-Firebase-ETag", "true")
	if ifMatch != "" {
		req.Header.Set("if-match", ifMatch)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(client.timeout)
	}
	if err := client.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, "", err
	}

	etag := string(resp.Header.Peek("ETag"))

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusPreconditionFailed:
		return nil, etag, ErrPreconditionFailed
	default:
		return nil, "", fmt.Errorf("firebase error: %d", resp.StatusCode())
	}

	data := resp.Body()
	if len(data) == 0 || string(data) == "null" {
		return nil, etag, nil
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, "", err
	}
	return &result, etag, nil
}
