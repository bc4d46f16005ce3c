package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartdryer/core/factory"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/notify"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	pubErr   error
	flushed  int
	closed   bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}
func (f *fakeConn) FlushTimeout(time.Duration) error { f.flushed++; return nil }
func (f *fakeConn) Close()                           { f.closed = true }

func withFakeConn(t *testing.T, fc *fakeConn) {
	orig := natsConnect
	natsConnect = func(string, ...nats.Option) (natsConn, error) { return fc, nil }
	t.Cleanup(func() { natsConnect = orig })
}

func TestNATSNotifierPublishes(t *testing.T) {
	fc := &fakeConn{}
	withFakeConn(t, fc)
	n, err := NewNATSNotifier(NATSConfig{SubjectPrefix: "alerts"}, logger.Nop{})
	require.NoError(t, err)

	nt := notify.RainAlert("alice", "SD.1", model.Number(3), time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, nt))
	require.Equal(t, []string{"alerts.rain_alert.SD_1"}, fc.subjects)
	assert.Equal(t, 1, fc.flushed)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.payloads[0], &got))
	assert.Equal(t, "rain_alert", got["type"])
	assert.Equal(t, "alice", got["user_id"])

	require.NoError(t, n.Close())
	assert.True(t, fc.closed)
}

func TestNATSNotifierPublishError(t *testing.T) {
	fc := &fakeConn{pubErr: errors.New("no responders")}
	withFakeConn(t, fc)
	n, err := NewNATSNotifier(NATSConfig{}, logger.Nop{})
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), notify.Notification{Kind: notify.KindManual}))
}

func TestFactoryBuiltins(t *testing.T) {
	fc := &fakeConn{}
	withFakeConn(t, fc)
	for _, typ := range []string{"nop", "log", "nats"} {
		n, err := notify.NewNotifier([]factory.ModuleConfig{{Type: typ, Conf: map[string]any{"url": "nats://x:4222"}}})
		require.NoError(t, err, typ)
		assert.NotNil(t, n)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(logger.Nop{})
	assert.NoError(t, n.Notify(context.Background(), notify.Notification{Kind: notify.KindManual, Data: model.Map(nil)}))
}
