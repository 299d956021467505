package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{"10.0.0.0/8", " 192.168.1.7 ", "::1", "not-an-ip", ""})

	assert.False(t, m.IsEmpty())
	assert.Equal(t, []string{"not-an-ip"}, m.Rejected())

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"::1", true},
		{"::ffff:10.9.9.9", true},
		{"garbage", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Allow(tt.ip), tt.ip)
	}
}

func TestIPMatcherEmpty(t *testing.T) {
	assert.True(t, NewIPMatcher(nil).IsEmpty())
	assert.True(t, NewIPMatcher([]string{" ", "bogus"}).IsEmpty())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	assert.Equal(t, "127.0.0.1", ClientIP(r, false))
	assert.Equal(t, "203.0.113.9", ClientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.2", ClientIP(r, true))

	r.Header.Del("X-Real-IP")
	assert.Equal(t, "127.0.0.1", ClientIP(r, true))
}

func TestParseHostNoPort(t *testing.T) {
	assert.Equal(t, "::1", ParseHostNoPort("[::1]:80"))
	assert.Equal(t, "10.0.0.1", ParseHostNoPort("10.0.0.1"))
	assert.Equal(t, "", ParseHostNoPort(""))
}
