package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/opengoat/internal/executor"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
)

// The control plane binds to loopback; same-origin checks would reject
// the desktop clients that talk to it.
var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type chatInbound struct {
	Message string            `json:"message"`
	Images  []providers.Image `json:"images,omitempty"`
}

// handleChatWS runs an interactive chat over one WebSocket. Each
// connection gets a dedicated ws: session; every inbound message becomes
// an invocation whose events are forwarded as JSON frames.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	if _, err := s.agents.GetAgent(agentID); err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("http.chat_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	sessionKey := sessions.PrefixWS + uuid.NewString()[:8]
	slog.Info("http.chat_connected", "agent", agentID, "session", sessionKey)

	for {
		var inbound chatInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		if inbound.Message == "" {
			continue
		}

		st := s.invoker.Invoke(r.Context(), executor.InvocationRequest{
			AgentID:    agentID,
			Message:    inbound.Message,
			SessionKey: sessionKey,
			Images:     inbound.Images,
		})
		for {
			ev, ok := st.Next(r.Context())
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Terminal() {
				break
			}
		}
	}
}
