package dispatch

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateIP(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true}, // cloud metadata endpoint
		{"0.0.0.0", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.ip)
		assert.Equal(t, c.private, isPrivateIP(ip), "ip=%s", c.ip)
	}
}

func TestResolvePublicIP_RejectsLiteralPrivateIP(t *testing.T) {
	_, err := resolvePublicIP(context.Background(), "127.0.0.1")
	assert.Error(t, err)

	_, err = resolvePublicIP(context.Background(), "169.254.169.254")
	assert.Error(t, err)
}

func TestResolvePublicIP_RejectsEmptyHost(t *testing.T) {
	_, err := resolvePublicIP(context.Background(), "")
	assert.Error(t, err)
}
