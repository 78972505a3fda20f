package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/opengoat/pkg/protocol"
)

// frameReadDeadline is the per-frame budget; any frame (events included)
// extends it.
const frameReadDeadline = 60 * time.Second

// GatewayProvider calls the OpenClaw gateway over its WebSocket RPC
// channel. It is the fallback when the CLI executable is absent, and a
// first-class provider in its own right.
type GatewayProvider struct {
	id    string
	url   string
	token string
	caps  Capabilities
}

// GatewayConfig parameterises NewGatewayProvider.
type GatewayConfig struct {
	ID    string
	URL   string
	Token string
}

// NewGatewayProvider builds the WebSocket RPC provider.
func NewGatewayProvider(cfg GatewayConfig) *GatewayProvider {
	id := cfg.ID
	if id == "" {
		id = "openclaw-gateway"
	}
	url := cfg.URL
	if url == "" {
		url = "ws://127.0.0.1:18790/ws"
	}
	return &GatewayProvider{
		id:    id,
		url:   url,
		token: cfg.Token,
		caps: Capabilities{
			Agent:       true,
			Passthrough: true,
			AgentCreate: true,
			AgentDelete: true,
		},
	}
}

func (p *GatewayProvider) ID() string                 { return p.id }
func (p *GatewayProvider) Kind() string               { return KindHTTP }
func (p *GatewayProvider) Capabilities() Capabilities { return p.caps }

// Invoke dials the gateway, performs the connect handshake and issues an
// agent call. Event frames between request and response are forwarded to
// OnStdout; the matching response terminates the call.
func (p *GatewayProvider) Invoke(ctx context.Context, opts InvokeOptions) (InvokeResult, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("gateway dial %s: %w", p.url, err)
	}
	defer conn.Close()

	// The dial context also bounds the whole call: closing the conn on
	// ctx.Done unblocks any pending read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := p.connect(conn); err != nil {
		return InvokeResult{}, err
	}

	reqID := uuid.NewString()[:8]
	params, _ := json.Marshal(map[string]any{
		"agentId":    opts.AgentID,
		"message":    opts.Message,
		"sessionKey": opts.SessionID,
		"images":     opts.Images,
	})
	if err := conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: protocol.MethodAgent,
		Params: params,
	}); err != nil {
		return InvokeResult{}, fmt.Errorf("send agent request: %w", err)
	}

	var res InvokeResult
	for {
		conn.SetReadDeadline(time.Now().Add(frameReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("gateway read: %w", err)
		}

		frameType, err := protocol.ParseFrameType(raw)
		if err != nil {
			slog.Warn("provider.gateway_bad_frame", "error", err)
			continue
		}
		switch frameType {
		case protocol.FrameTypeEvent:
			var evt protocol.EventFrame
			if err := json.Unmarshal(raw, &evt); err != nil {
				continue
			}
			if chunk := eventChunk(evt); chunk != "" {
				res.Stdout += chunk
				if opts.OnStdout != nil {
					opts.OnStdout(chunk)
				}
			}

		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			if resp.ID != reqID {
				continue
			}
			if !resp.OK {
				res.Code = 1
				if resp.Error != nil {
					res.Stderr = resp.Error.Message
				}
				return res, nil
			}
			var payload struct {
				Content   string `json:"content"`
				SessionID string `json:"sessionId"`
			}
			if len(resp.Payload) > 0 {
				json.Unmarshal(resp.Payload, &payload)
			}
			res.Output = payload.Content
			res.ProviderSessionID = payload.SessionID
			if res.Output == "" {
				res.Output = res.Stdout
			}
			return res, nil
		}
	}
}

// connect performs the auth handshake frame.
func (p *GatewayProvider) connect(conn *websocket.Conn) error {
	params := map[string]string{}
	if p.token != "" {
		params["token"] = p.token
	}
	paramsJSON, _ := json.Marshal(params)

	if err := conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "connect-1",
		Method: protocol.MethodConnect,
		Params: paramsJSON,
	}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(frameReadDeadline))
	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("gateway connect rejected: %s", resp.Error.Message)
		}
		return fmt.Errorf("gateway connect rejected")
	}
	return nil
}

// CreateAgent asks the gateway to provision an agent on its side.
func (p *GatewayProvider) CreateAgent(ctx context.Context, agentID string) error {
	return p.call(ctx, protocol.MethodAgentsCreate, map[string]string{"agentId": agentID})
}

// DeleteAgent removes the gateway-side agent.
func (p *GatewayProvider) DeleteAgent(ctx context.Context, agentID string) error {
	return p.call(ctx, protocol.MethodAgentsDelete, map[string]string{"agentId": agentID})
}

// ApplyConfig pushes a config document through config.apply.
func (p *GatewayProvider) ApplyConfig(ctx context.Context, doc any) error {
	return p.call(ctx, protocol.MethodConfigApply, doc)
}

func (p *GatewayProvider) call(ctx context.Context, method string, params any) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("gateway dial %s: %w", p.url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := p.connect(conn); err != nil {
		return err
	}

	reqID := uuid.NewString()[:8]
	paramsJSON, _ := json.Marshal(params)
	if err := conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: method,
		Params: paramsJSON,
	}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(frameReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway read: %w", err)
		}
		frameType, _ := protocol.ParseFrameType(raw)
		if frameType != protocol.FrameTypeResponse {
			continue
		}
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if resp.ID != reqID {
			continue
		}
		if !resp.OK {
			if resp.Error != nil {
				return fmt.Errorf("%s rejected: %s", method, resp.Error.Message)
			}
			return fmt.Errorf("%s rejected", method)
		}
		return nil
	}
}

// eventChunk extracts streamed content from an agent event frame.
func eventChunk(evt protocol.EventFrame) string {
	if evt.Event != protocol.EventAgent {
		return ""
	}
	var payload struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return ""
	}
	if payload.Type != protocol.AgentEventChunk {
		return ""
	}
	return payload.Content
}
