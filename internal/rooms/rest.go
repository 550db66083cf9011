package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// RESTProvisioner talks to a hosted room-management API:
// GET {base}/rooms/{name} and POST {base}/rooms, both with a bearer credential.
type RESTProvisioner struct {
	baseURL string
	client  *http.Client
	log     *zerolog.Logger
}

// NewRESTProvisioner creates a provisioner for the API rooted at baseURL.
// client may be nil, in which case http.DefaultClient is used.
func NewRESTProvisioner(baseURL string, client *http.Client, logger *zerolog.Logger) *RESTProvisioner {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RESTProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     logger,
	}
}

type createRoomRequest struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties"`
}

type roomDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Resolve looks the room up and creates it when the API reports it missing.
// Failures are returned as *AccessError and are never retried.
func (p *RESTProvisioner) Resolve(ctx context.Context, credential, room string) (Reference, error) {
	if room == "" {
		return Reference{}, ErrEmptyRoomName
	}

	status, desc, err := p.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(room), credential, nil)
	if err != nil {
		return Reference{}, &AccessError{Room: room, Reason: ReasonAccess, Err: err}
	}

	switch {
	case status >= 200 && status < 300:
		p.log.Debug().Str("room", room).Str("url", desc.URL).Msg("room found")
		return p.reference(room, status, desc, ReasonAccess)
	case status == http.StatusNotFound:
		p.log.Info().Str("room", room).Msg("room not found, creating")
	default:
		p.log.Warn().Str("room", room).Int("status", status).Msg("room lookup failed")
		return Reference{}, &AccessError{Room: room, Status: status, Reason: ReasonAccess}
	}

	body := createRoomRequest{Name: room, Properties: VoiceOnly}
	status, desc, err = p.do(ctx, http.MethodPost, "/rooms", credential, body)
	if err != nil {
		return Reference{}, &AccessError{Room: room, Reason: ReasonCreate, Err: err}
	}
	if status < 200 || status >= 300 {
		p.log.Warn().Str("room", room).Int("status", status).Msg("room creation failed")
		return Reference{}, &AccessError{Room: room, Status: status, Reason: ReasonCreate}
	}

	p.log.Info().Str("room", room).Str("url", desc.URL).Msg("room created")
	return p.reference(room, status, desc, ReasonCreate)
}

func (p *RESTProvisioner) reference(room string, status int, desc roomDescriptor, reason string) (Reference, error) {
	if desc.URL == "" {
		return Reference{}, &AccessError{Room: room, Status: status, Reason: reason, Err: fmt.Errorf("room descriptor has no url")}
	}
	return Reference{Name: room, JoinURL: desc.URL}, nil
}

// do issues one request and decodes a room descriptor from 2xx responses.
func (p *RESTProvisioner) do(ctx context.Context, method, path, credential string, payload any) (int, roomDescriptor, error) {
	var desc roomDescriptor

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, desc, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return 0, desc, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, desc, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, desc, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return resp.StatusCode, desc, fmt.Errorf("decode room: %w", err)
	}
	return resp.StatusCode, desc, nil
}

// Ensure RESTProvisioner implements Provisioner
var _ Provisioner = (*RESTProvisioner)(nil)
