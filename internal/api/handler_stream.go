package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inkwell/internal/broker"
	"inkwell/internal/scope"
)

type StreamHandler struct {
	bus    *broker.Broker
	authz  *scope.Authorizer
	logger *slog.Logger
}

func NewStreamHandler(bus *broker.Broker, authz *scope.Authorizer, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, authz: authz, logger: logger}
}

// Subscribe GET /api/v1/events/stream
// 长连接 SSE 端点：按 query 参数收窄订阅 scope，支持 Last-Event-ID 重放。
func (h *StreamHandler) Subscribe(c *gin.Context) {
	principal := scope.Principal{
		UserID:      c.GetString("user_id"),
		WorkspaceID: c.GetString("workspace_id"),
	}

	scopes := requestedScopes(c)
	if err := h.authz.Authorize(c.Request.Context(), principal, scopes); err != nil {
		respondError(c, mapDomainError(err), err)
		return
	}

	connectionID := uuid.New().String()
	lastEventID := c.GetHeader("Last-Event-ID")

	sub := h.bus.Subscribe(connectionID, principal.UserID, principal.WorkspaceID, scopes, lastEventID)
	defer h.bus.Unsubscribe(connectionID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// 长连接需要禁用服务器级别的 WriteTimeout，
	// 否则 http.Server.WriteTimeout 会在传输过程中强行关闭 TCP 连接。
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("Failed to disable write deadline for SSE", "error", err)
	}

	// 第一条合成事件：告知客户端心跳间隔、重放窗口和已解析的 scope。
	// replay_gap 为 true 时客户端应当丢弃本地状态做全量刷新。
	open := StreamOpenPayload{
		HeartbeatMS: h.bus.HeartbeatInterval().Milliseconds(),
		ReplayLimit: h.bus.ReplayCapacity(),
		WorkspaceID: principal.WorkspaceID,
		Scopes:      scopes,
		ReplayGap:   sub.ReplayGap,
	}
	openData, _ := json.Marshal(open)
	c.Render(-1, sse.Event{Event: "stream.open", Data: string(openData)})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				// broker 侧关闭订阅，结束 SSE 连接
				return false
			}

			data, err := json.Marshal(env)
			if err != nil {
				return false
			}

			event := sse.Event{Event: eventName(env), Data: string(data)}
			if env.ID != "" {
				event.Id = env.ID
			}
			c.Render(-1, event)
			return true

		case <-c.Request.Context().Done():
			// 客户端断连
			return false
		}
	})
}

func eventName(env broker.Envelope) string {
	if env.Kind == broker.KindHeartbeat {
		return string(broker.KindHeartbeat)
	}
	return string(env.Topic)
}

// requestedScopes 把 query 参数翻译为订阅 scope 列表。
// 没有任何参数时订阅默认的宽泛 topic。
func requestedScopes(c *gin.Context) []broker.Scope {
	var scopes []broker.Scope

	if projectID := c.Query("projectId"); projectID != "" {
		scopes = append(scopes, broker.Scope{Topic: broker.TopicProjectLifecycle, ResourceID: projectID})
	}
	if documentID := c.Query("documentId"); documentID != "" {
		scopes = append(scopes,
			broker.Scope{Topic: broker.TopicDocumentLifecycle, ResourceID: documentID},
			broker.Scope{Topic: broker.TopicQualityProgress, ResourceID: documentID},
			broker.Scope{Topic: broker.TopicQualitySummary, ResourceID: documentID},
		)
	}
	if sectionID := c.Query("sectionId"); sectionID != "" {
		scopes = append(scopes,
			broker.Scope{Topic: broker.TopicSectionConflict, ResourceID: sectionID},
			broker.Scope{Topic: broker.TopicSectionDiff, ResourceID: sectionID},
			broker.Scope{Topic: broker.TopicCoAuthorQueue, ResourceID: sectionID},
			broker.Scope{Topic: broker.TopicCoAuthorProgress, ResourceID: sectionID},
		)
	}

	if len(scopes) == 0 {
		scopes = []broker.Scope{
			{Topic: broker.TopicProjectLifecycle},
			{Topic: broker.TopicQualityProgress},
			{Topic: broker.TopicQualitySummary},
			{Topic: broker.TopicSectionConflict},
			{Topic: broker.TopicSectionDiff},
		}
	}

	return scopes
}
