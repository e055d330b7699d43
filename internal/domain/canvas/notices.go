package canvas

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/pipeline"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

// Host notice events
const (
	NoticePrefix       = "host:"
	NoticeLog          = "host:log"
	NoticeInstance     = "host:instance"
	NoticeRoutingMiss  = "host:routing-miss"
	NoticeNotification = "host:notification"
)

// MaxNotificationText caps notification title and body length
const MaxNotificationText = 512

// LogNotice carries a widget log line
type LogNotice struct {
	InstanceID string `json:"instance_id"`
	Level      string `json:"level"`
	Message    string `json:"message"`
}

// InstanceNotice reports a lifecycle change
type InstanceNotice struct {
	InstanceID string       `json:"instance_id"`
	Status     types.Status `json:"status"`
}

// RoutingNotice reports a refused edge
type RoutingNotice struct {
	Edge   types.Edge `json:"edge"`
	Reason string     `json:"reason"`
}

// Notification is raised by widgets through notifications.show
type Notification struct {
	InstanceID string    `json:"instance_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	Time       time.Time `json:"time"`
}

func isNotice(event string) bool {
	return strings.HasPrefix(event, NoticePrefix)
}

func (c *Canvas) notice(event string, payload interface{}) {
	c.bus.Emit(event, payload, types.CanvasScope(), "")
}

func (c *Canvas) noticeInstance(instanceID string, status types.Status) {
	c.notice(NoticeInstance, InstanceNotice{InstanceID: instanceID, Status: status})
}

func (c *Canvas) noticeRejection(e types.Edge, err error) {
	if err == nil {
		return
	}
	reason := err.Error()
	var miss *pipeline.RoutingMiss
	if errors.As(err, &miss) {
		reason = miss.Reason
	}
	c.notice(NoticeRoutingMiss, RoutingNotice{Edge: e, Reason: reason})
}

// notificationOperation implements notifications.show by raising a notice
// for the editor
func (c *Canvas) notificationOperation() capability.Operation {
	return capability.Operation{
		Name:        "notifications.show",
		Description: "Show a notification in the editor",
		Invoke: func(ctx context.Context, call capability.Call) (interface{}, error) {
			title, _ := call.Args["title"].(string)
			if strings.TrimSpace(title) == "" {
				return nil, errors.New("title is required")
			}
			body, _ := call.Args["body"].(string)
			c.notice(NoticeNotification, Notification{
				InstanceID: call.InstanceID,
				Title:      c.sanitizer.Sanitize(truncate(title)),
				Body:       c.sanitizer.Sanitize(truncate(body)),
				Time:       time.Now(),
			})
			return true, nil
		},
	}
}

func truncate(s string) string {
	if r := []rune(s); len(r) > MaxNotificationText {
		return string(r[:MaxNotificationText])
	}
	return s
}
