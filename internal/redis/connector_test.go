package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(ctx context.Context) *redis.StatusCmd {
	p.calls++
	cmd := redis.NewStatusCmd(ctx, "ping")
	if p.calls <= p.failures {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func testOptions() ConnectOptions {
	return ConnectOptions{
		Addr:           "localhost:6379",
		ConnectTimeout: time.Second,
		RetryInterval:  time.Millisecond,
		MaxWait:        4 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestWaitForPingRetries(t *testing.T) {
	p := &flakyPinger{failures: 3}
	err := waitForPing(context.Background(), p, testOptions(), logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
}

func TestWaitForPingGivesUp(t *testing.T) {
	opts := testOptions()
	opts.ConnectTimeout = 20 * time.Millisecond

	p := &flakyPinger{failures: 1 << 30}
	err := waitForPing(context.Background(), p, opts, logger.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "connection refused")
}

func TestWaitForPingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForPing(ctx, &flakyPinger{failures: 1 << 30}, testOptions(), logger.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBackoffCaps(t *testing.T) {
	b := backoff{next: time.Second, max: 5 * time.Second}
	var got []time.Duration
	for range 5 {
		got = append(got, b.step())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func TestConnectOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnectOptions)
		wantErr string
	}{
		{name: "valid", mutate: func(*ConnectOptions) {}},
		{name: "no connect timeout", mutate: func(o *ConnectOptions) { o.ConnectTimeout = 0 }, wantErr: "ConnectTimeout"},
		{name: "no retry interval", mutate: func(o *ConnectOptions) { o.RetryInterval = 0 }, wantErr: "RetryInterval"},
		{name: "no max wait", mutate: func(o *ConnectOptions) { o.MaxWait = -1 }, wantErr: "MaxWait"},
		{name: "no ping timeout", mutate: func(o *ConnectOptions) { o.PingTimeout = 0 }, wantErr: "PingTimeout"},
		{name: "negative threshold", mutate: func(o *ConnectOptions) { o.WarnThreshold = -1 }, wantErr: "WarnThreshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			err := opts.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(context.Background(), ConnectOptions{}, logger.Nop())
	assert.Error(t, err)
}
