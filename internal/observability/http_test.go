package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientInfoFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/jobs/J1", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	req.Header.Set("X-Device-Id", "dev-1")
	req.Header.Set("X-Request-Id", "req-1")

	info := ClientInfoFromRequest(req)
	assert.Equal(t, ClientInfo{DeviceID: "dev-1", RequestID: "req-1", IP: "10.0.0.9"}, info)

	req.Header.Set("X-Real-IP", "192.168.1.4")
	assert.Equal(t, "192.168.1.4", ClientInfoFromRequest(req).IP)

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientInfoFromRequest(req).IP)
}
