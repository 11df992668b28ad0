package httpapi_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelstream/channelstream/internal/domain/model"
)

func wsURL(ts string, connID string) string {
	return strings.Replace(ts, "http://", "ws://", 1) + "/ws?conn_id=" + connID
}

func TestWebsocketDelivery(t *testing.T) {
	ts := newTestServer(t)
	alice := connect(t, ts, "alice", []string{"pub_chan"}, nil)

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, alice.ConnID), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	status, _ := doJSON(t, ts, http.MethodPost, "/message", []map[string]any{
		{"channel": "pub_chan", "user": "alice", "message": map[string]any{"text": "over ws"}},
	}, true)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envs []model.Envelope
	require.NoError(t, ws.ReadJSON(&envs))
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"text":"over ws"}`, string(envs[0].Message))
}

func TestWebsocketUnknownConnection(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "6b2f7f5e-0000-0000-0000-000000000000"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
