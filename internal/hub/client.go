package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"plate-node/internal/config"
	"plate-node/internal/domain/detection"

	"github.com/rs/zerolog"
)

const (
	RequestTimeout    = 30 * time.Second
	HeartbeatInterval = 30 * time.Second
	DefaultRetryDelay = 2 * time.Second
)

var ErrHubRejected = errors.New("hub rejected request")

// ImageReader loads a stored detection snapshot.
type ImageReader interface {
	Read(fileName string, at time.Time) ([]byte, bool, error)
}

// Client talks to the central hub: node registration, heartbeats and detection
// uploads.
type Client struct {
	baseURL    string
	nodeID     string
	nodeName   string
	token      string
	maxRetries int

	http       *http.Client
	images     ImageReader
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	log        zerolog.Logger

	mu            sync.Mutex
	lastHeartbeat time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option  { return func(cl *Client) { cl.http = c } }
func WithRetryDelay(d time.Duration) Option { return func(cl *Client) { cl.retryDelay = d } }
func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

// WithSleep replaces the wait between upload attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) { cl.sleep = sleep }
}
func WithImageReader(r ImageReader) Option  { return func(cl *Client) { cl.images = r } }

func NewClient(cfg config.NodeConfiguration, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.HubServerURL, "/"),
		nodeID:     cfg.NodeID,
		nodeName:   cfg.NodeName,
		token:      cfg.APIToken,
		maxRetries: max(1, cfg.MaxRetryAttempts),
		http:       &http.Client{Timeout: RequestTimeout},
		retryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterNode announces this node to the hub. Callers treat a failure as
// non-fatal.
func (c *Client) RegisterNode(ctx context.Context) error {
	body, err := json.Marshal(detection.NodeRegistration{NodeID: c.nodeID, NodeName: c.nodeName})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, "/api/node/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		c.log.Warn().Err(err).Msg("node registration failed")
		return err
	}
	c.log.Info().Str("node_name", c.nodeName).Msg("node registered with hub")
	return nil
}

// SendHeartbeat posts a heartbeat unless one succeeded within the last 30s.
// It reports whether a heartbeat was delivered.
func (c *Client) SendHeartbeat(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastHeartbeat.IsZero() && c.now().Sub(c.lastHeartbeat) < HeartbeatInterval {
		return false
	}

	req, err := c.newRequest(ctx, "/api/node/heartbeat/"+url.PathEscape(c.nodeID), nil)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build heartbeat")
		return false
	}
	if err := c.do(req, nil); err != nil {
		c.log.Error().Err(err).Msg("heartbeat failed")
		return false
	}

	c.lastHeartbeat = c.now()
	return true
}

// SendDetection uploads det with its snapshot, retrying up to MaxRetryAttempts
// times with a delay of attempt x retry delay between tries.
func (c *Client) SendDetection(ctx context.Context, det detection.VehicleDetectionData) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.submit(ctx, det)
		if err == nil {
			c.log.Info().
				Str("plate", det.PlateNumber).
				Str("hub_id", resp.Data).
				Msg("detection sent to hub")
			return true, nil
		}
		lastErr = err
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Str("plate", det.PlateNumber).
			Msg("detection upload failed")

		if attempt == c.maxRetries {
			break
		}
		if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
			return false, err
		}
	}
	return false, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) submit(ctx context.Context, det detection.VehicleDetectionData) (detection.SubmitResponse, error) {
	payload, err := json.Marshal(det)
	if err != nil {
		return detection.SubmitResponse{}, fmt.Errorf("encode detection: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="detection"`)
	header.Set("Content-Type", "application/json; charset=utf-8")
	part, err := mw.CreatePart(header)
	if err != nil {
		return detection.SubmitResponse{}, err
	}
	if _, err := part.Write(payload); err != nil {
		return detection.SubmitResponse{}, err
	}

	if err := c.attachImage(mw, det); err != nil {
		return detection.SubmitResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return detection.SubmitResponse{}, err
	}

	req, err := c.newRequest(ctx, "/api/vehicledetection/submit", &body)
	if err != nil {
		return detection.SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out detection.SubmitResponse
	if err := c.do(req, &out); err != nil {
		return detection.SubmitResponse{}, err
	}
	return out, nil
}

func (c *Client) attachImage(mw *multipart.Writer, det detection.VehicleDetectionData) error {
	if c.images == nil || det.ImageFileName == "" {
		return nil
	}
	data, ok, err := c.images.Read(det.ImageFileName, det.DetectionTime)
	if err != nil {
		c.log.Warn().Err(err).Str("file", det.ImageFileName).Msg("failed to read detection image")
		return nil
	}
	if !ok {
		return nil
	}

	part, err := mw.CreateFormFile("image", det.ImageFileName)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func (c *Client) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a JSON body into out when both are present. Any
// non-2xx status is an error.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s", ErrHubRejected, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			c.log.Debug().Err(err).Msg("ignoring undecodable hub response")
		}
	}
	return nil
}
