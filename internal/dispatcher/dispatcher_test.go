package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/payload"
)

func TestBreakerOpensAndProbes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	br := NewMicroBreaker(2, time.Minute)
	br.now = func() time.Time { return now }

	br.OnFailure()
	assert.True(t, br.Ready())
	br.OnFailure()
	assert.Equal(t, "open", br.State())
	assert.False(t, br.TryAcquire())

	now = now.Add(2 * time.Minute)
	assert.True(t, br.TryAcquire())
	assert.Equal(t, "half_open", br.State())
	assert.False(t, br.TryAcquire(), "only one probe at a time")

	br.OnSuccess()
	assert.Equal(t, "closed", br.State())
}

type stubSender struct {
	calls atomic.Int32
	res   Result
}

func (s *stubSender) Send(context.Context, payload.Payload) Result {
	s.calls.Add(1)
	return s.res
}

func TestGuardedSenderCountsOnlyTransportFailures(t *testing.T) {
	remote := &stubSender{res: Result{Kind: KindRemote, ErrorMessage: "bad template"}}
	g := NewGuardedSender(remote, NewMicroBreaker(1, time.Hour))
	for i := 0; i < 3; i++ {
		g.Send(context.Background(), payload.Payload{})
	}
	assert.EqualValues(t, 3, remote.calls.Load())

	down := &stubSender{res: Result{Kind: KindTransport, ErrorMessage: "reset"}}
	g = NewGuardedSender(down, NewMicroBreaker(1, time.Hour))
	g.Send(context.Background(), payload.Payload{})
	res := g.Send(context.Background(), payload.Payload{})
	assert.EqualValues(t, 1, down.calls.Load())
	assert.Equal(t, KindTransport, res.Kind)
	assert.Equal(t, ErrBreakerOpen.Error(), res.ErrorMessage)
}

func TestHTTPProviderSend(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var sms model.SMS
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sms))
		assert.Equal(t, model.SMS{To: "+250788123456", Text: "hi", Sender: "SHOP"}, sms)

		_, _ = io.WriteString(w, `{"message_id":"sms-1"}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{
		Name: "a", BaseURL: srv.URL, NormalPath: "/send", ExpressPath: "/send/express", APIKey: "key",
	})

	res := p.Send(context.Background(), model.SMS{To: "+250788123456", Text: "hi", Sender: "SHOP"}, model.LaneExpress)
	assert.True(t, res.Success)
	assert.Equal(t, "sms-1", res.MessageID)
	assert.Equal(t, "/send/express", gotPath)
}

func TestDispatcherFailsOverOnTransportErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"ok-1"}`)
	}))
	defer good.Close()

	d := NewDispatcher([]Provider{
		NewHTTPProvider(HTTPProviderConfig{Name: "bad", BaseURL: bad.URL, NormalPath: "/"}),
		NewHTTPProvider(HTTPProviderConfig{Name: "good", BaseURL: good.URL, NormalPath: "/"}),
	}, 3, 2)

	res := d.Send(context.Background(), model.SMS{To: "+1", Text: "x"}, model.LaneNormal)
	assert.True(t, res.Success)
	assert.Equal(t, "ok-1", res.MessageID)
}

func TestDispatcherStopsOnRemoteRejection(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewDispatcher([]Provider{
		NewHTTPProvider(HTTPProviderConfig{Name: "p", BaseURL: srv.URL, NormalPath: "/"}),
	}, 3, 3)

	res := d.Send(context.Background(), model.SMS{To: "+1", Text: "x"}, model.LaneExpress)
	assert.False(t, res.Success)
	assert.Equal(t, KindRemote, res.Kind)
	assert.Equal(t, 422, res.ErrorCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestDispatcherNoProviders(t *testing.T) {
	res := NewDispatcher(nil, 1, 1).Send(context.Background(), model.SMS{}, model.LaneNormal)
	assert.Equal(t, KindTransport, res.Kind)
	assert.Equal(t, ErrNoHealthy.Error(), res.ErrorMessage)
}
