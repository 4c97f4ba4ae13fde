package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

type fakePublisher struct {
	subject    string
	data       []byte
	publishErr error
	flushErr   error
	flushedFor time.Duration
	closed     bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.publishErr
}

func (f *fakePublisher) FlushTimeout(d time.Duration) error {
	f.flushedFor = d
	return f.flushErr
}

func (f *fakePublisher) Close() { f.closed = true }

func TestNATS_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATS(pub, "msgrelay.messages", 5*time.Second)

	err := n.Send(context.Background(), model.Payload{Subject: "Message from Bob", Text: "hi", SequenceIDs: []int64{42}})
	require.NoError(t, err)

	assert.Equal(t, "msgrelay.messages", pub.subject)
	assert.Equal(t, 5*time.Second, pub.flushedFor)
	var env envelope
	require.NoError(t, json.Unmarshal(pub.data, &env))
	assert.Equal(t, envelope{Subject: "Message from Bob", Text: "hi", SequenceIDs: []int64{42}}, env)

	require.NoError(t, n.Close())
	assert.True(t, pub.closed)
}

func TestNATS_FlushBoundedByContext(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATS(pub, "s", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Send(ctx, model.Payload{Text: "x"}))
	assert.LessOrEqual(t, pub.flushedFor, time.Second)
}

func TestNATS_Errors(t *testing.T) {
	pub := &fakePublisher{publishErr: errors.New("connection closed")}
	err := newNATS(pub, "s", time.Second).Send(context.Background(), model.Payload{Text: "x"})
	assert.ErrorContains(t, err, "connection closed")

	pub = &fakePublisher{flushErr: errors.New("timeout")}
	err = newNATS(pub, "s", time.Second).Send(context.Background(), model.Payload{Text: "x"})
	assert.ErrorContains(t, err, "nats flush")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub = &fakePublisher{}
	err = newNATS(pub, "s", time.Second).Send(ctx, model.Payload{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, pub.data)
}
