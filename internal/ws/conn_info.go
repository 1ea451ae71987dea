package ws

import "time"

type ConnInfo struct {
	ConnID      string
	UserID      string
	JobID       string
	ChatID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
