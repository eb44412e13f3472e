package wssig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ray1422/mcprtc/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverFixture(t *testing.T) (string, <-chan *Channel) {
	accepted := make(chan *Channel, 1)
	srv := httptest.NewServer(Handler(func(ch *Channel) { accepted <- ch }))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func receive(t *testing.T, ch signaling.Channel) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := ch.Receive(ctx)
	require.NoError(t, err)
	return string(msg)
}

func TestExchange(t *testing.T) {
	url, accepted := serverFixture(t)
	ctx := context.Background()
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted
	defer server.Close()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, server.Connect(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Send(ctx, signaling.Message(fmt.Sprintf(`{"seq":%d}`, i))))
	}
	for i := 0; i < 5; i++ {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), receive(t, server))
	}
	require.NoError(t, server.Send(ctx, signaling.Message(`{"type":"offer","sdp":"x"}`)))
	assert.JSONEq(t, `{"type":"offer","sdp":"x"}`, receive(t, client))
}

func TestRemoteCloseDrains(t *testing.T) {
	url, accepted := serverFixture(t)
	ctx := context.Background()
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted

	require.NoError(t, server.Send(ctx, signaling.Message(`{"last":true}`)))
	require.NoError(t, server.Close())
	assert.ErrorIs(t, server.Send(ctx, signaling.Message(`{}`)), signaling.ErrChannelClosed)

	assert.JSONEq(t, `{"last":true}`, receive(t, client))
	_, err = client.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDialRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	var hs *HandshakeError
	require.ErrorAs(t, err, &hs)
	assert.Equal(t, http.StatusNotFound, hs.Status)
}
