package transport

import (
	"context"
	"testing"
	"time"

	"github.com/openvacs/vacs/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_SendRecv(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, protocol.Login("tok")))

	got, err := server.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeLogin, got.Type)
	assert.Equal(t, "tok", got.Token)
}

func TestPipe_OrderPreserved(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, client.Send(ctx, protocol.Ping(string(rune('a'+i)))))
	}
	for i := 0; i < 10; i++ {
		got, err := server.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i)), got.Nonce)
	}
}

func TestPipe_CloseIsTerminalRuntimeError(t *testing.T) {
	client, server := Pipe()
	ctx := context.Background()

	require.NoError(t, client.Close())

	_, err := server.Recv(ctx)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)

	err = server.Send(ctx, protocol.Ping("n"))
	require.ErrorAs(t, err, &rerr)
}

func TestPipe_BinaryFrameIsProtocolError(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()
	ctx := context.Background()

	client.InjectBinaryFrame([]byte{0x01, 0x02})

	_, err := server.Recv(ctx)
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)

	// The stream stays usable after a protocol error.
	require.NoError(t, client.Send(ctx, protocol.Ping("n")))
	got, err := server.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePing, got.Type)
}

func TestPipe_MalformedFrameIsProtocolError(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	client.InjectFrame([]byte(`{"type":"nope"}`))

	_, err := server.Recv(context.Background())
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestPipe_KeepaliveAnsweredInternally(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()
	ctx := context.Background()

	ponged := make(chan struct{}, 1)
	client.SetPongHandler(func() { ponged <- struct{}{} })

	require.NoError(t, client.Ping(ctx))

	// The server end answers the ping inside Recv without surfacing it;
	// unblock its Recv with a real message afterwards.
	go func() {
		_, _ = server.Recv(ctx)
	}()
	require.NoError(t, client.Send(ctx, protocol.Ping("n")))

	// Client's Recv observes the pong via the handler.
	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go func() {
		_, _ = client.Recv(recvCtx)
	}()

	select {
	case <-ponged:
	case <-time.After(2 * time.Second):
		t.Fatal("pong never observed")
	}
}

func TestPipe_AutoPongDisabled(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()
	ctx := context.Background()

	server.SetAutoPong(false)
	ponged := make(chan struct{}, 1)
	client.SetPongHandler(func() { ponged <- struct{}{} })

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Send(ctx, protocol.Ping("n")))

	// Server consumes the ping frame and the message without replying.
	got, err := server.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePing, got.Type)

	recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = client.Recv(recvCtx)
	assert.Error(t, err)

	select {
	case <-ponged:
		t.Fatal("unexpected pong")
	default:
	}
}

func TestMemDialer_FailNext(t *testing.T) {
	d := NewMemDialer()
	d.FailNext(2)
	ctx := context.Background()

	_, err := d.Dial(ctx, "mem://", "")
	var serr *SetupError
	require.ErrorAs(t, err, &serr)

	_, err = d.Dial(ctx, "mem://", "")
	require.ErrorAs(t, err, &serr)

	conn, err := d.Dial(ctx, "mem://", "")
	require.NoError(t, err)
	defer conn.Close()

	select {
	case server := <-d.Accept():
		defer server.Close()
	default:
		t.Fatal("no server end accepted")
	}
	assert.Equal(t, 3, d.DialCount())
}
