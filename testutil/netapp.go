// Package testutil provides in-process fakes for the client's external
// collaborators: a network application endpoint and the orchestration
// middleware. No external services are required.
package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kapim/era-5g-client/transport"
)

// FakeNetApp is an in-process network application endpoint. It accepts the
// connect handshake, answers control commands, records data channel traffic,
// and can push result messages to connected clients.
type FakeNetApp struct {
	// RejectConnect makes the handshake answer connect_error.
	RejectConnect bool

	// OnCommand, when set, produces the control command reply payload.
	// Returning ok=false answers control_cmd_error.
	OnCommand func(payload json.RawMessage) (reply json.RawMessage, ok bool)

	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*wsPeer
	commands []json.RawMessage
	data     []transport.Envelope
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *wsPeer) send(env transport.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// NewFakeNetApp starts a fake network application on an ephemeral port.
func NewFakeNetApp() *FakeNetApp {
	f := &FakeNetApp{}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// NewFakeNetAppOn starts a fake network application on the given listener.
// Useful for tests that need the endpoint to appear on a known port after a
// delay.
func NewFakeNetAppOn(ln net.Listener) *FakeNetApp {
	f := &FakeNetApp{}
	f.server = &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: http.HandlerFunc(f.handle)},
	}
	f.server.Start()
	return f
}

// Target returns the endpoint address of the fake.
func (f *FakeNetApp) Target() transport.Target {
	addr := f.server.Listener.Addr().(*net.TCPAddr)
	return transport.Target{Host: "127.0.0.1", Port: addr.Port}
}

// Close shuts the fake down and drops all connections.
func (f *FakeNetApp) Close() {
	f.mu.Lock()
	for _, p := range f.conns {
		p.conn.Close()
	}
	f.conns = nil
	f.mu.Unlock()
	f.server.Close()
}

// Commands returns the control command payloads received so far.
func (f *FakeNetApp) Commands() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]json.RawMessage, len(f.commands))
	copy(out, f.commands)
	return out
}

// DataEnvelopes returns the data channel envelopes received so far.
func (f *FakeNetApp) DataEnvelopes() []transport.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Envelope, len(f.data))
	copy(out, f.data)
	return out
}

// WaitForData blocks until at least n data envelopes arrived or the timeout
// elapses. Returns the envelopes seen.
func (f *FakeNetApp) WaitForData(n int, timeout time.Duration) []transport.Envelope {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if envs := f.DataEnvelopes(); len(envs) >= n {
			return envs
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.DataEnvelopes()
}

// PushResult sends a result message to every connected client.
func (f *FakeNetApp) PushResult(payload json.RawMessage) {
	f.mu.Lock()
	peers := make([]*wsPeer, len(f.conns))
	copy(peers, f.conns)
	f.mu.Unlock()

	env := transport.Envelope{
		Channel:   transport.ChannelResults,
		Event:     transport.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	for _, p := range peers {
		_ = p.send(env)
	}
}

// PushDataError sends an image_error or json_error event to every client.
func (f *FakeNetApp) PushDataError(event string, payload json.RawMessage) {
	f.mu.Lock()
	peers := make([]*wsPeer, len(f.conns))
	copy(peers, f.conns)
	f.mu.Unlock()

	env := transport.Envelope{
		Channel:   transport.ChannelData,
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	for _, p := range peers {
		_ = p.send(env)
	}
}

func (f *FakeNetApp) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := &wsPeer{conn: conn}
	f.mu.Lock()
	f.conns = append(f.conns, peer)
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Event {
		case transport.EventConnect:
			reply := transport.Envelope{
				Channel:   transport.ChannelResults,
				Event:     transport.EventConnect,
				ID:        env.ID,
				Timestamp: time.Now().UnixMilli(),
			}
			if f.RejectConnect {
				reply.Event = transport.EventConnectError
				reply.Payload = json.RawMessage(`"rejected by test server"`)
			}
			_ = peer.send(reply)

		case transport.EventCommand:
			f.mu.Lock()
			f.commands = append(f.commands, env.Payload)
			handler := f.OnCommand
			f.mu.Unlock()

			reply := transport.Envelope{
				Channel:   transport.ChannelControl,
				Event:     transport.EventCommandResult,
				ID:        env.ID,
				Timestamp: time.Now().UnixMilli(),
				Payload:   json.RawMessage(`{"status":"ok"}`),
			}
			if handler != nil {
				payload, ok := handler(env.Payload)
				reply.Payload = payload
				if !ok {
					reply.Event = transport.EventCommandError
				}
			}
			_ = peer.send(reply)

		case transport.EventImage, transport.EventJSON:
			f.mu.Lock()
			f.data = append(f.data, env)
			f.mu.Unlock()
		}
	}
}
