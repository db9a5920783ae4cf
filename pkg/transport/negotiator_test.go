package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/transport"
)

func TestNegotiateInterleavedTCP(t *testing.T) {
	n, err := transport.Negotiate("RTP/AVP/TCP;unicast;interleaved=2-3", nil)
	require.NoError(t, err)
	assert.Equal(t, transport.ModeTCP, n.Mode)
	assert.Equal(t, byte(2), n.ChannelRTP)
	assert.Equal(t, byte(3), n.ChannelRTCP)
	assert.Equal(t, "RTP/AVP/TCP;unicast;interleaved=2-3", n.Header())
}

func TestNegotiateTCPWithoutExplicitChannelsDefaultsToZeroOne(t *testing.T) {
	n, err := transport.Negotiate("RTP/AVP/TCP;unicast", nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0), n.ChannelRTP)
	assert.Equal(t, byte(1), n.ChannelRTCP)
}

func TestNegotiateUDPAllocatesServerPorts(t *testing.T) {
	allocator := camera.NewPortAllocator()
	n, err := transport.Negotiate("RTP/AVP;unicast;client_port=5000-5001", allocator)
	require.NoError(t, err)
	assert.Equal(t, transport.ModeUDP, n.Mode)
	assert.Equal(t, 5000, n.ClientRTPPort)
	assert.Equal(t, 5001, n.ClientRTCPPort)
	assert.True(t, n.ServerRTPPort%2 == 0)
	assert.Equal(t, n.ServerRTPPort+1, n.ServerRTCPPort)
}

func TestNegotiateUnsupportedTransport(t *testing.T) {
	_, err := transport.Negotiate("RTP/SAVP;unicast", nil)
	assert.Error(t, err)
}
