package studio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// WHIPConnectorConfig configures a WHIP connector.
type WHIPConnectorConfig struct {
	// Stream supplies the program tracks to publish. Every track must
	// implement webrtc.TrackLocal.
	Stream *MediaStream

	// BearerToken is sent as the WHIP authorization token when set.
	BearerToken string

	// ICEServers for the peer connection. Empty means host candidates
	// only, which suits local ingest endpoints.
	ICEServers []webrtc.ICEServer

	// HTTPClient used for the signaling requests, default
	// http.DefaultClient.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// WHIPConnector publishes the program stream over WebRTC-HTTP ingestion
// (WHIP): POST an SDP offer to the destination URL, apply the SDP
// answer, DELETE the session resource on teardown.
type WHIPConnector struct {
	stream *MediaStream
	token  string
	ice    []webrtc.ICEServer
	client *http.Client
	logger *zap.Logger
}

// NewWHIPConnector creates a WHIP connector.
func NewWHIPConnector(config WHIPConnectorConfig) (*WHIPConnector, error) {
	if config.Stream == nil {
		return nil, fmt.Errorf("whip connector: stream is required")
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WHIPConnector{
		stream: config.Stream,
		token:  config.BearerToken,
		ice:    config.ICEServers,
		client: client,
		logger: logger,
	}, nil
}

// Connect implements Connector.
func (c *WHIPConnector) Connect(ctx context.Context, dest Destination) (*ConnectResult, error) {
	tracks := c.stream.GetTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("whip connector: stream has no tracks")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.ice})
	if err != nil {
		return nil, fmt.Errorf("whip peer connection: %w", err)
	}

	fail := func(err error) (*ConnectResult, error) {
		pc.Close()
		return nil, err
	}

	for _, t := range tracks {
		local, ok := t.(webrtc.TrackLocal)
		if !ok {
			return fail(fmt.Errorf("whip connector: track %s is not a webrtc.TrackLocal", t.ID()))
		}
		sender, err := pc.AddTrack(local)
		if err != nil {
			return fail(fmt.Errorf("add track %s: %w", t.ID(), err))
		}

		// Drain incoming RTCP so interceptors keep running.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	answer, resource, err := c.exchangeSDP(ctx, dest.URL, pc.LocalDescription().SDP)
	if err != nil {
		return fail(err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}

	c.logger.Info("whip session established",
		zap.String("destination_id", dest.ID),
		zap.String("resource", resource))

	return &ConnectResult{
		Resource: resource,
		Close: func(ctx context.Context) error {
			var result *multierror.Error
			if resource != "" {
				if err := c.deleteResource(ctx, resource); err != nil {
					result = multierror.Append(result, err)
				}
			}
			if err := pc.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()
		},
	}, nil
}

// exchangeSDP POSTs the offer and returns the answer SDP plus the
// session resource URL from the Location header.
func (c *WHIPConnector) exchangeSDP(ctx context.Context, endpoint, offer string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", "", fmt.Errorf("whip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("whip offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("whip answer: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("whip endpoint returned %s", resp.Status)
	}

	resource := ""
	if loc, err := resp.Location(); err == nil {
		resource = loc.String()
	}

	return string(body), resource, nil
}

func (c *WHIPConnector) deleteResource(ctx context.Context, resource string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return fmt.Errorf("whip teardown request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whip teardown: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whip teardown returned %s", resp.Status)
	}
	return nil
}

var _ Connector = (*WHIPConnector)(nil)
