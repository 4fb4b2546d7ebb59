package wsconn

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestConnRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srvReady := make(chan *Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		srvReady <- New(ws)
	}))
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	client := New(clientWS)

	server := <-srvReady

	n, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 2)
	n, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "he", string(buf[:n]))

	n, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ll", string(buf[:n]))

	buf = buf[:1]
	n, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "o", string(buf[:n]))

	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
}
