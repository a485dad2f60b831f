// ABOUTME: Application-level tests running sender and receiver on loopback
// ABOUTME: Uses the pcm codec and mock sink so no hardware is touched
package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.StatsAddr = ""
	cfg.Codec = "pcm"
	cfg.Sink = "mock"
	cfg.EnableQoS = false
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func TestNewReceiverRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = 5
	_, err := NewReceiver(cfg)
	assert.Error(t, err)
}

func TestNewSenderRequiresAddress(t *testing.T) {
	cfg := testConfig()
	cfg.SendAddr = ""
	_, err := NewSender(cfg)
	assert.Error(t, err)
}

func TestSessionIDsAreUnique(t *testing.T) {
	a, err := NewReceiver(testConfig())
	require.NoError(t, err)
	b, err := NewReceiver(testConfig())
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestSenderToReceiverPlayback(t *testing.T) {
	recv, err := NewReceiver(testConfig())
	require.NoError(t, err)
	require.NoError(t, recv.Start())
	defer recv.Stop()

	sendCfg := testConfig()
	sendCfg.SendAddr = recv.Transport().LocalAddr().String()
	send, err := NewSender(sendCfg)
	require.NoError(t, err)
	require.NoError(t, send.Start())
	defer send.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return recv.Pipeline().Stats().FramesPlayed >= 10
	})

	stats := recv.Pipeline().Stats()
	assert.Zero(t, stats.DecodeErrors)
	assert.GreaterOrEqual(t, send.PacketsSent(), stats.FramesPlayed)
}

func TestSenderWithoutFEC(t *testing.T) {
	recvCfg := testConfig()
	recvCfg.EnableFEC = false
	recv, err := NewReceiver(recvCfg)
	require.NoError(t, err)
	require.NoError(t, recv.Start())
	defer recv.Stop()

	sendCfg := recvCfg
	sendCfg.SendAddr = recv.Transport().LocalAddr().String()
	send, err := NewSender(sendCfg)
	require.NoError(t, err)
	require.NoError(t, send.Start())
	defer send.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return recv.Pipeline().Stats().FramesPlayed >= 5
	})
}
