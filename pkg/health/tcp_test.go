package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPCheckerHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	c := NewTCPChecker(ln.Addr().String())
	res := c.Check(context.Background())
	require.True(t, res.Healthy)
	require.Equal(t, CheckTypeTCP, c.Type())
}

func TestTCPCheckerUnreachable(t *testing.T) {
	c := NewTCPChecker("127.0.0.1:1").WithTimeout(200 * time.Millisecond)
	res := c.Check(context.Background())
	require.False(t, res.Healthy)
}

func TestStatusUpdateRetryThreshold(t *testing.T) {
	s := NewStatus()
	cfg := Config{Retries: 2}

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	require.True(t, s.Healthy, "single failure must not flip health under retries=2")

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	require.False(t, s.Healthy)

	s.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	require.True(t, s.Healthy)
}
