package dnstransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/support/worker"
	"github.com/nsblast/nsblast/internal/wire"
)

type stubHandler struct{}

func (stubHandler) Answer(b *wire.Builder, tenant string, q wire.Question) wire.Rcode {
	b.SetFlags(true, false, false, false, wire.RcodeSuccess)
	b.AddRR(wire.SectionAnswer, wire.RR{Name: q.Name, Type: wire.TypeA, Class: wire.ClassIN, TTL: 300, RData: []byte{127, 0, 0, 1}})
	return wire.RcodeSuccess
}

func TestUDPServerRoundTrip(t *testing.T) {
	pool := worker.New(context.Background(), 4)
	srv := &Server{QueryHandler: stubHandler{}, Pool: pool}
	u, err := srv.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer u.Close()

	go u.Serve()

	client, err := net.Dial("udp", u.conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	b := wire.NewBuilder(99, wire.OpcodeQuery, true, 512)
	require.NoError(t, b.AddQuestion(wire.Question{Name: "example.com", Type: wire.TypeA, Class: wire.ClassIN}))
	_, err = client.Write(b.Finish())
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	msg, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint16(99), msg.Header.ID)
	assert.True(t, msg.Header.QR)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, wire.TypeA, msg.Answer[0].Type)
}
