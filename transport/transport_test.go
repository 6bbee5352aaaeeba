package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kapim/era-5g-client/errors"
	"github.com/Kapim/era-5g-client/testutil"
	"github.com/Kapim/era-5g-client/transport"
)

var allChannels = []transport.Channel{
	transport.ChannelData,
	transport.ChannelControl,
	transport.ChannelResults,
}

func dialFake(t *testing.T, fake *testutil.FakeNetApp) *transport.Conn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), fake.Target(), allChannels, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDialAndHandshake(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)
	assert.Nil(t, conn.CloseReason())
}

func TestDialUnreachable(t *testing.T) {
	_, err := transport.Dial(context.Background(),
		transport.Target{Host: "127.0.0.1", Port: 1}, allChannels, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFailedToConnect)
}

func TestDialRejectedHandshake(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	fake.RejectConnect = true
	defer fake.Close()

	_, err := transport.Dial(context.Background(), fake.Target(), allChannels, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFailedToConnect)
}

func TestEmitDelivered(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)
	require.NoError(t, conn.Emit(transport.ChannelData, transport.EventJSON, json.RawMessage(`{"k":"v"}`)))

	envs := fake.WaitForData(1, 2*time.Second)
	require.Len(t, envs, 1)
	assert.Equal(t, transport.ChannelData, envs[0].Channel)
	assert.Equal(t, transport.EventJSON, envs[0].Event)
	assert.JSONEq(t, `{"k":"v"}`, string(envs[0].Payload))
}

func TestCallReceivesMatchedReply(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)
	reply, err := conn.Call(context.Background(),
		transport.ChannelControl, transport.EventCommand, json.RawMessage(`{"cmd":1}`))
	require.NoError(t, err)
	assert.Equal(t, transport.EventCommandResult, reply.Event)
	assert.JSONEq(t, `{"status":"ok"}`, string(reply.Payload))
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	fake.OnCommand = func(payload json.RawMessage) (json.RawMessage, bool) {
		return payload, true
	}
	defer fake.Close()

	conn := dialFake(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := json.RawMessage(fmt.Sprintf(`{"call":%d}`, i))
			reply, err := conn.Call(context.Background(),
				transport.ChannelControl, transport.EventCommand, payload)
			assert.NoError(t, err)
			assert.JSONEq(t, string(payload), string(reply.Payload))
		}(i)
	}
	wg.Wait()
}

func TestCallContextExpiry(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The server ignores this event, so no reply ever arrives
	_, err := conn.Call(ctx, transport.ChannelControl, "unanswered", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsPendingCall(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), transport.ChannelControl, "unanswered", nil)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call survived connection close")
	}
}

func TestCallAfterClose(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)
	require.NoError(t, conn.Close())

	_, err := conn.Call(context.Background(), transport.ChannelControl, transport.EventCommand, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestHandlerDispatch(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)

	received := make(chan transport.Envelope, 1)
	conn.Handle(transport.ChannelResults, transport.EventMessage, func(env transport.Envelope) {
		received <- env
	})

	fake.PushResult(json.RawMessage(`{"answer":42}`))

	select {
	case env := <-received:
		assert.JSONEq(t, `{"answer":42}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestHandlerRemoval(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)

	received := make(chan struct{}, 4)
	conn.Handle(transport.ChannelResults, transport.EventMessage, func(transport.Envelope) {
		received <- struct{}{}
	})

	fake.PushResult(json.RawMessage(`1`))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	conn.Handle(transport.ChannelResults, transport.EventMessage, nil)
	fake.PushResult(json.RawMessage(`2`))

	select {
	case <-received:
		t.Fatal("handler invoked after removal")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseIdempotent(t *testing.T) {
	fake := testutil.NewFakeNetApp()
	defer fake.Close()

	conn := dialFake(t, fake)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case <-conn.Closed():
	default:
		t.Fatal("Closed channel not closed after Close")
	}
	assert.ErrorIs(t, conn.CloseReason(), errors.ErrNotConnected)
}

func TestServerDropDetected(t *testing.T) {
	fake := testutil.NewFakeNetApp()

	conn := dialFake(t, fake)
	fake.Close()

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("connection close not observed after server shutdown")
	}
	assert.Error(t, conn.CloseReason())
}
