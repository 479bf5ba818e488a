package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cloudunify/internal/activity"
	"github.com/smallbiznis/cloudunify/internal/observability/logger"
	"go.uber.org/zap"
)

const activityWriteTimeout = 10 * time.Second

// StreamActivity upgrades to a websocket and relays the organization's activity events.
// The hub queues heartbeats on the same channel; a pong frame from the client acknowledges them.
func (s *Server) StreamActivity(c *gin.Context) {
	if s.activityHub == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	orgID := strings.TrimSpace(c.Param("organization_id"))
	sub, err := s.activityHub.Subscribe(orgID, c.Query("client_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Activity.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the handshake failure.
		return
	}
	defer conn.CloseNow()

	log := logger.FromContext(c.Request.Context()).With(
		zap.String("org_id", orgID),
		zap.String("client_id", sub.ClientID()),
	)
	log.Info("activity subscriber connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		readActivityFrames(ctx, conn, sub)
	}()

	reason := s.relayActivity(ctx, conn, sub)
	switch reason {
	case closeHeartbeatTimeout:
		_ = conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
	case closeReplaced:
		_ = conn.Close(websocket.StatusNormalClosure, "replaced by newer connection")
	default:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	cancel()
	<-readDone
	log.Info("activity subscriber disconnected", zap.String("reason", string(reason)))
}

type closeReason string

const (
	closeClientGone       closeReason = "client_gone"
	closeHeartbeatTimeout closeReason = "heartbeat_timeout"
	closeReplaced         closeReason = "replaced"
	closeWriteFailed      closeReason = "write_failed"
)

func (s *Server) relayActivity(ctx context.Context, conn *websocket.Conn, sub *activity.Subscription) closeReason {
	for {
		select {
		case <-ctx.Done():
			return closeClientGone
		case event, ok := <-sub.Events():
			if !ok {
				if sub.Reason() == activity.EndReplaced {
					return closeReplaced
				}
				return closeHeartbeatTimeout
			}
			writeCtx, cancel := context.WithTimeout(ctx, activityWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return closeWriteFailed
			}
		}
	}
}

// readActivityFrames consumes client frames until the connection ends. Anything that is
// not a pong is ignored.
func readActivityFrames(ctx context.Context, conn *websocket.Conn, sub *activity.Subscription) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var frame activity.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(frame.Type), activity.TypePong) {
			sub.Ack()
		}
	}
}
