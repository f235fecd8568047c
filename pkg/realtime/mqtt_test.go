package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	sent         []published
	token        mqtt.Token
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.token != nil {
		return f.token
	}
	return completedToken(nil)
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func TestMQTTPublisher_Topics(t *testing.T) {
	client := &fakeMQTT{}
	p := newMQTTPublisher(client, "finance/")

	require.NoError(t, p.Publish(context.Background(), "kpi-alerts", map[string]string{"id": "a-1"}))
	require.NoError(t, p.PublishToUser(context.Background(), "dm-1", "alerts", "hello"))

	require.Len(t, client.sent, 2)
	assert.Equal(t, "finance/kpi-alerts", client.sent[0].topic)
	assert.Equal(t, byte(1), client.sent[0].qos)
	assert.JSONEq(t, `{"id":"a-1"}`, string(client.sent[0].payload))
	assert.Equal(t, "finance/users/dm-1/alerts", client.sent[1].topic)

	var s string
	require.NoError(t, json.Unmarshal(client.sent[1].payload, &s))
	assert.Equal(t, "hello", s)

	p.Close()
	assert.True(t, client.disconnected)
}

func TestMQTTPublisher_DefaultPrefix(t *testing.T) {
	client := &fakeMQTT{}
	require.NoError(t, newMQTTPublisher(client, "").Publish(context.Background(), "alert-updates", 1))
	assert.Equal(t, "sentinel/alert-updates", client.sent[0].topic)
}

func TestMQTTPublisher_Errors(t *testing.T) {
	client := &fakeMQTT{token: completedToken(errors.New("not connected"))}
	p := newMQTTPublisher(client, "")
	assert.ErrorContains(t, p.Publish(context.Background(), "kpi-alerts", 1), "not connected")

	pending := &fakeToken{done: make(chan struct{})}
	client.token = pending
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "kpi-alerts", 1), context.Canceled)

	p.timeout = 10 * time.Millisecond
	assert.ErrorContains(t, p.Publish(context.Background(), "kpi-alerts", 1), "timed out")
}

type recordingPublisher struct {
	err   error
	calls int
}

func (r *recordingPublisher) Publish(context.Context, string, any) error {
	r.calls++
	return r.err
}

func (r *recordingPublisher) PublishToUser(context.Context, string, string, any) error {
	r.calls++
	return r.err
}

func TestFanout(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("down")}

	f := Fanout{ok, bad}
	assert.NoError(t, f.Publish(context.Background(), "kpi-alerts", 1))
	assert.NoError(t, f.PublishToUser(context.Background(), "dm-1", "alerts", 1))
	assert.Equal(t, 2, ok.calls)
	assert.Equal(t, 2, bad.calls)

	assert.ErrorContains(t, Fanout{bad}.Publish(context.Background(), "kpi-alerts", 1), "down")
}
