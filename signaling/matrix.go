// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wirecall/wirecall/lib/ref"
)

// Compile-time interface check.
var _ Delivery = (*MatrixClient)(nil)

// MatrixError is the standard Matrix error response shape, returned
// for any non-2xx API response.
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix error %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// MatrixClientConfig holds configuration for creating a MatrixClient.
type MatrixClientConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// AccessToken authenticates all requests.
	AccessToken string
	// UserID is the authenticated user (must match the token).
	UserID ref.UserID
	// DeviceID is this device's identifier.
	DeviceID ref.DeviceID
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// MatrixClient sends and receives call signaling events through the
// Matrix client-server API. It implements Delivery: outbound events
// go out as idempotent PUTs to the room's event-send endpoint, with a
// per-client transaction counter.
type MatrixClient struct {
	baseURL     string
	accessToken string
	userID      ref.UserID
	deviceID    ref.DeviceID
	httpClient  *http.Client
	logger      *slog.Logger

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// NewMatrixClient creates an authenticated client for one account
// device.
func NewMatrixClient(config MatrixClientConfig) (*MatrixClient, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("signaling: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("signaling: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("signaling: AccessToken is required")
	}
	if config.UserID.IsZero() {
		return nil, fmt.Errorf("signaling: UserID is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MatrixClient{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		userID:      config.UserID,
		deviceID:    config.DeviceID,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// UserID returns the authenticated user identity.
func (c *MatrixClient) UserID() ref.UserID { return c.userID }

// DeviceID returns this device's identifier.
func (c *MatrixClient) DeviceID() ref.DeviceID { return c.deviceID }

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Called after a sync error to force the
// next request onto a fresh TCP connection instead of a poisoned
// pooled one.
func (c *MatrixClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Send delivers an outbound signaling event to its room using the
// idempotent PUT endpoint with a fresh transaction ID.
func (c *MatrixClient) Send(ctx context.Context, event Event) (ref.EventID, error) {
	if event.RoomID.IsZero() {
		return ref.EventID{}, fmt.Errorf("signaling: event has no room ID")
	}
	transactionID := c.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(event.RoomID.String()),
		url.PathEscape(event.Type),
		url.PathEscape(transactionID),
	)

	body, err := c.doRequest(ctx, http.MethodPut, path, json.RawMessage(event.Content))
	if err != nil {
		return ref.EventID{}, fmt.Errorf("signaling: sending %s to %s: %w", event.Type, event.RoomID, err)
	}

	var response struct {
		EventID ref.EventID `json:"event_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("signaling: parsing send response: %w", err)
	}
	return response.EventID, nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "wirecall-<timestamp_ms>-<counter>" to ensure
// uniqueness across restarts.
func (c *MatrixClient) nextTransactionID() string {
	counter := c.transactionCounter.Add(1)
	return fmt.Sprintf("wirecall-%d-%d", time.Now().UnixMilli(), counter)
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (distinguishes "not set" from "0")
	Filter     string // inline JSON filter
}

// SyncResponse is the subset of the /sync response the receiver needs.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data.
type RoomsSection struct {
	Join map[ref.RoomID]JoinedRoom `json:"join"`
}

// JoinedRoom carries the timeline events for one joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection holds the timeline events from a /sync response.
type TimelineSection struct {
	Events []Event `json:"events"`
}

// Sync performs one /sync request.
func (c *MatrixClient) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	path := "/_matrix/client/v3/sync?" + query.Encode()
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("signaling: parsing sync response: %w", err)
	}
	return &response, nil
}

// TURNCredentials is the homeserver's time-limited TURN credential
// response. The username and password are HMAC-derived and expire
// after TTL seconds; callers should refresh before then.
type TURNCredentials struct {
	URIs     []string `json:"uris"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int64    `json:"ttl"`
}

// TURNServer fetches TURN credentials from the homeserver. Returns
// nil (no error) when the homeserver has no TURN server configured.
func (c *MatrixClient) TURNServer(ctx context.Context) (*TURNCredentials, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/voip/turnServer", nil)
	if err != nil {
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && matrixErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("signaling: fetching TURN credentials: %w", err)
	}

	var credentials TURNCredentials
	if err := json.Unmarshal(body, &credentials); err != nil {
		return nil, fmt.Errorf("signaling: parsing TURN credentials: %w", err)
	}
	if len(credentials.URIs) == 0 {
		return nil, nil
	}
	return &credentials, nil
}

// doRequest performs one authenticated JSON API request. Non-2xx
// responses are returned as *MatrixError.
func (c *MatrixClient) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}

// maxSyncRetries is the number of consecutive /sync failures tolerated
// before the receiver gives up. Each retry uses a short server-side
// timeout so the HTTP round-trip itself provides backoff.
const maxSyncRetries = 5

// longPollTimeout is the server-side long-poll hold time in
// milliseconds. The server holds the connection until new events
// arrive. 30 seconds matches the client-server spec recommendation.
const longPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds used after a
// /sync error, kept short so the retry completes quickly.
const retryTimeout = 1000

// buildCallFilter constructs the inline /sync filter: the watched room
// only, call event types only, no state, no presence, no account data.
func buildCallFilter(roomID ref.RoomID) string {
	top := map[string]any{
		"room": map[string]any{
			"rooms": []string{roomID.String()},
			"timeline": map[string]any{
				"types": CallEventTypes(),
			},
			"state": map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(top)
	return string(data)
}

// MatrixReceiver feeds inbound call events from one room to a handler,
// using filtered /sync long-polling. Create it, then call Run from a
// dedicated goroutine; Run blocks until the context is cancelled or
// sync fails repeatedly.
type MatrixReceiver struct {
	client *MatrixClient
	roomID ref.RoomID
	logger *slog.Logger
}

// NewMatrixReceiver creates a receiver for call events in roomID.
func NewMatrixReceiver(client *MatrixClient, roomID ref.RoomID, logger *slog.Logger) *MatrixReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixReceiver{client: client, roomID: roomID, logger: logger}
}

// Run streams call events to handler until ctx is cancelled (returns
// nil) or /sync fails maxSyncRetries consecutive times (returns the
// last error). The initial zero-timeout sync anchors the stream so
// only events arriving after Run starts are delivered.
func (r *MatrixReceiver) Run(ctx context.Context, handler func(Event)) error {
	filter := buildCallFilter(r.roomID)

	initial, err := r.client.Sync(ctx, SyncOptions{SetTimeout: true, Timeout: 0, Filter: filter})
	if err != nil {
		return fmt.Errorf("signaling: initial sync: %w", err)
	}
	nextBatch := initial.NextBatch

	var syncRetries int
	for {
		if ctx.Err() != nil {
			return nil
		}

		// On retry after a sync error, use a short server-side
		// timeout so the HTTP round-trip itself provides backoff.
		syncTimeout := longPollTimeout
		if syncRetries > 0 {
			syncTimeout = retryTimeout
		}
		response, err := r.client.Sync(ctx, SyncOptions{
			Since:      nextBatch,
			SetTimeout: true,
			Timeout:    syncTimeout,
			Filter:     filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			syncRetries++
			// TCP-level errors often indicate a poisoned connection
			// in the HTTP pool. Drop idle connections so the next
			// attempt opens a fresh socket.
			r.client.CloseIdleConnections()
			if syncRetries > maxSyncRetries {
				return fmt.Errorf("signaling: sync failed %d consecutive times: %w", syncRetries, err)
			}
			r.logger.Debug("call event sync error, retrying",
				"room_id", r.roomID,
				"attempt", syncRetries,
				"max_attempts", maxSyncRetries,
				"error", err,
			)
			continue
		}
		syncRetries = 0
		nextBatch = response.NextBatch

		joined, ok := response.Rooms.Join[r.roomID]
		if !ok {
			continue
		}
		for _, event := range joined.Timeline.Events {
			if !IsCallEventType(event.Type) {
				continue
			}
			event.RoomID = r.roomID
			handler(event)
		}
	}
}
