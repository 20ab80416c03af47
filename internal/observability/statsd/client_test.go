package statsd

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.PacketConn, string) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().String()
}

func readLine(t *testing.T, conn net.PacketConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestClient_Count(t *testing.T) {
	conn, addr := listen(t)
	client, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "verity", Logger: slog.Default()})
	require.NoError(t, err)
	defer client.Close()

	client.Count("jobs.completed", 3, map[string]string{"status": "ok", "connection": "c1"})

	line := readLine(t, conn)
	assert.Equal(t, "verity.jobs.completed:3|c|#connection:c1,status:ok", line, "tags are sorted by key")
}

func TestClient_GaugeAndTiming(t *testing.T) {
	conn, addr := listen(t)
	client, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "verity"})
	require.NoError(t, err)
	defer client.Close()

	client.Gauge("jobs.pending", 12, nil)
	assert.Equal(t, "verity.jobs.pending:12|g", readLine(t, conn))

	client.Timing("jobs.duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "verity.jobs.duration:1500|ms", readLine(t, conn))
}

func TestClient_GlobalTags(t *testing.T) {
	conn, addr := listen(t)
	client, err := NewClient(Config{
		Enabled:    true,
		Address:    addr,
		Prefix:     "verity",
		GlobalTags: map[string]string{"env": "test", "status": "global"},
	})
	require.NoError(t, err)
	defer client.Close()

	client.Count("ticks", 1, map[string]string{"status": "local"})

	line := readLine(t, conn)
	assert.Equal(t, "verity.ticks:1|c|#env:test,status:local", line, "local tags win over global")
}

func TestClient_MetricNameSanitization(t *testing.T) {
	conn, addr := listen(t)
	client, err := NewClient(Config{Enabled: true, Address: addr, Prefix: ".verity."})
	require.NoError(t, err)
	defer client.Close()

	client.Count("jobs/metadata refresh", 1, nil)
	assert.Equal(t, "verity.jobs_metadata_refresh:1|c", readLine(t, conn))
}

func TestClient_Disabled(t *testing.T) {
	client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)

	// No connection; these must be no-ops.
	client.Count("x", 1, nil)
	client.Gauge("x", 1, nil)
	client.Timing("x", time.Second, nil)
	assert.NoError(t, client.Close())
}

func TestClient_NilSafe(t *testing.T) {
	var client *Client
	client.Count("x", 1, nil)
	client.Gauge("x", 1, nil)
	client.Timing("x", time.Second, nil)
	assert.NoError(t, client.Close())
}

func TestClient_BlankNameDropped(t *testing.T) {
	conn, addr := listen(t)
	client, err := NewClient(Config{Enabled: true, Address: addr})
	require.NoError(t, err)
	defer client.Close()

	client.Count("  ", 1, nil)
	client.Count("after", 1, nil)

	assert.Equal(t, "after:1|c", readLine(t, conn), "blank names emit nothing")
}
