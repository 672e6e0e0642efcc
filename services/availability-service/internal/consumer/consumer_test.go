package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memInbox struct {
	seen    map[string]bool
	seenErr error
}

func (m *memInbox) Seen(_ context.Context, eventID string) (bool, error) {
	return m.seen[eventID], m.seenErr
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

type fakeInvalidator struct {
	ids  []string
	errs []error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type sliceReader struct {
	msgs      []kafka.Message
	cancel    context.CancelFunc
	committed []int64
	closed    bool
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func profileMsg(offset int64, eventID, body string) kafka.Message {
	return kafka.Message{
		Topic:   TopicProfileUpdated,
		Offset:  offset,
		Value:   []byte(body),
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(eventID)}},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var fastRetry = Config{Topic: TopicProfileUpdated, MaxAttempts: 3, Backoff: time.Millisecond}

func TestRunDeduplicatesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvalidator{}
	reader := &sliceReader{cancel: cancel, msgs: []kafka.Message{
		profileMsg(1, "e1", `{"provider_id":"p1"}`),
		profileMsg(2, "e1", `{"provider_id":"p1"}`),
		profileMsg(3, "e2", `{"user_id":"p2"}`),
		profileMsg(4, "e3", `not json`),
	}}
	inbox := &memInbox{seen: map[string]bool{}}
	c := NewWithReader(quiet(), inbox, reader, fastRetry, ProfileHandler(inv, quiet()))

	c.Run(ctx)

	assert.Equal(t, []string{"p1", "p2"}, inv.ids)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.True(t, inbox.seen["e1"])
	assert.False(t, inbox.seen["e3"], "a dropped event is not recorded")
	assert.True(t, reader.closed)
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	inv := &fakeInvalidator{errs: []error{errors.New("redis down"), errors.New("redis down")}}
	inbox := &memInbox{seen: map[string]bool{}}
	c := NewWithReader(quiet(), inbox, &sliceReader{}, fastRetry, ProfileHandler(inv, quiet()))

	require.NoError(t, c.Handle(context.Background(), profileMsg(1, "e1", `{"provider_id":"p1"}`)))
	assert.Equal(t, []string{"p1", "p1", "p1"}, inv.ids)
	assert.True(t, inbox.seen["e1"])
}

func TestHandleDoesNotRetryPermanentFailures(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		return Permanent(errors.New("bad payload"))
	}
	c := NewWithReader(quiet(), &memInbox{seen: map[string]bool{}}, &sliceReader{}, fastRetry, handler)

	require.NoError(t, c.Handle(context.Background(), profileMsg(1, "e1", `{}`)))
	assert.Equal(t, 1, calls)
}

func TestHandleSurfacesInboxFailure(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error { calls++; return nil }
	c := NewWithReader(quiet(), &memInbox{seenErr: errors.New("db down")}, &sliceReader{}, fastRetry, handler)

	require.Error(t, c.Handle(context.Background(), profileMsg(1, "e1", `{}`)))
	assert.Zero(t, calls)
}

func TestProfileHandlerErrors(t *testing.T) {
	h := ProfileHandler(&fakeInvalidator{}, quiet())
	err := h(context.Background(), profileMsg(1, "e1", `{}`))
	require.Error(t, err)
	var p permanentError
	assert.ErrorAs(t, err, &p)

	h = ProfileHandler(&fakeInvalidator{errs: []error{errors.New("redis down")}}, quiet())
	err = h(context.Background(), profileMsg(1, "e1", `{"provider_id":"p1"}`))
	require.Error(t, err)
	assert.False(t, errors.As(err, &p))
}
