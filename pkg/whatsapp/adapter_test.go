package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/waferry/pkg/bus"
	"github.com/tinyland-inc/waferry/pkg/session"
)

// fakeDriverServer answers the driver protocol with canned data.
func fakeDriverServer(t *testing.T, handle func(req request) response) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := handle(req)
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	driver, err := Dial(context.Background(), wsURL(srv), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	return NewAdapter(driver, "/tmp/profile-1", zerolog.Nop())
}

func TestListUnreadChats(t *testing.T) {
	srv := fakeDriverServer(t, func(req request) response {
		require.Equal(t, "list_unread", req.Op)
		return response{OK: true, Data: []byte(`[{"id":"c1","name":"Mom"},{"id":"c2","name":"Dad"}]`)}
	})
	a := dialTestAdapter(t, srv)

	chats, err := a.ListUnreadChats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []session.ChatHandle{{ID: "c1", Name: "Mom"}, {ID: "c2", Name: "Dad"}}, chats)
}

func TestReadNewMessagesMapsKinds(t *testing.T) {
	srv := fakeDriverServer(t, func(req request) response {
		switch req.Op {
		case "read_new":
			return response{OK: true, Data: []byte(`[
				{"sender":"Mom","kind":"text","text":"hi"},
				{"sender":"Mom","kind":"media","text":"pic","media":{"path":"/tmp/a.jpg","mime_type":"image/jpeg","filename":"a.jpg"}}
			]`)}
		default:
			return response{OK: true, Data: []byte(`null`)}
		}
	})
	a := dialTestAdapter(t, srv)

	msgs, err := a.ReadNewMessages(context.Background(), session.ChatHandle{ID: "c1", Name: "Mom"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, bus.KindText, msgs[0].Kind)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, bus.KindMedia, msgs[1].Kind)
	require.NotNil(t, msgs[1].Media)
	assert.Equal(t, "/tmp/a.jpg", msgs[1].Media.Path)
}

func TestDriverErrorSurfacesCodeAndMessage(t *testing.T) {
	srv := fakeDriverServer(t, func(req request) response {
		return response{OK: false, Code: "timeout", Error: "selector wait timed out"}
	})
	a := dialTestAdapter(t, srv)

	err := a.SendText(context.Background(), session.ChatHandle{Name: "Mom"}, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.False(t, session.IsFatal(err))
}

func TestReconnectAuthRequiredIsFatal(t *testing.T) {
	srv := fakeDriverServer(t, func(req request) response {
		if req.Op == "reconnect" {
			return response{OK: false, Code: errCodeAuthRequired, Error: "QR scan required"}
		}
		return response{OK: true}
	})
	a := dialTestAdapter(t, srv)

	err := a.Reconnect(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsFatal(err), "auth_required must map to ErrSessionUnavailable")
}

func TestIsSessionAlive(t *testing.T) {
	alive := true
	srv := fakeDriverServer(t, func(req request) response {
		require.Equal(t, "alive", req.Op)
		if alive {
			return response{OK: true, Data: []byte(`true`)}
		}
		return response{OK: true, Data: []byte(`false`)}
	})
	a := dialTestAdapter(t, srv)

	assert.True(t, a.IsSessionAlive(context.Background()))
	alive = false
	assert.False(t, a.IsSessionAlive(context.Background()))
}
