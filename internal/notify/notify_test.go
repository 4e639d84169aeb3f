package notify

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/wire"
)

func TestIDPoolAcquireRelease(t *testing.T) {
	p := newIDPool()
	id1, ok := p.acquire()
	require.True(t, ok)
	id2, ok := p.acquire()
	require.True(t, ok)
	assert.NotEqual(t, id1, id2)

	p.release(id1)
	id3, ok := p.acquire()
	require.True(t, ok)
	assert.Equal(t, id1, id3) // recycled, not allocated fresh
}

func TestNotifyZoneSendsAndAcks(t *testing.T) {
	slave, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer slave.Close()

	n, err := New()
	require.NoError(t, err)
	defer n.Close()
	require.NoError(t, n.Start())

	require.NoError(t, n.NotifyZone("example.com", slave.LocalAddr().String()))
	assert.Equal(t, 1, n.Pending())

	buf := make([]byte, 512)
	slave.SetReadDeadline(time.Now().Add(2 * time.Second))
	size, from, err := slave.ReadFrom(buf)
	require.NoError(t, err)

	msg, err := wire.Decode(buf[:size])
	require.NoError(t, err)
	assert.Equal(t, wire.OpcodeNotify, msg.Header.Opcode)
	require.Len(t, msg.Question, 1)
	assert.Equal(t, "example.com", msg.Question[0].Name)

	ackB := wire.NewBuilder(msg.Header.ID, wire.OpcodeNotify, false, 512)
	require.NoError(t, ackB.AddQuestion(msg.Question[0]))
	ackB.SetFlags(true, false, false, false, wire.RcodeSuccess)
	_, err = slave.WriteTo(ackB.Finish(), from)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
}
