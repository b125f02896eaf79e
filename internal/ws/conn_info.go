package ws

import (
	"time"

	"support-chat-service/internal/models"
	"support-chat-service/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	Identity    models.Identity
	Request     observability.RequestInfo
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) role() string {
	return string(i.Identity.Role)
}
