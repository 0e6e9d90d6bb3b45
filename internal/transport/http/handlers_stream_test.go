package httptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domamart/internal/events"
	"domamart/internal/notify"
)

// fakeHub records subscriptions so tests can publish to them directly.
type fakeHub struct {
	mu   sync.Mutex
	subs map[string][]notify.Callback
	err  error
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: map[string][]notify.Callback{}}
}

func (h *fakeHub) Subscribe(key string, cb notify.Callback) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	h.subs[key] = append(h.subs[key], cb)
	idx := len(h.subs[key]) - 1
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.subs[key][idx] = nil
	}, nil
}

func (h *fakeHub) live(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, cb := range h.subs[key] {
		if cb != nil {
			n++
		}
	}
	return n
}

func (h *fakeHub) publish(key string, evt events.Event) []error {
	h.mu.Lock()
	cbs := append([]notify.Callback(nil), h.subs[key]...)
	h.mu.Unlock()
	var errs []error
	for _, cb := range cbs {
		if cb != nil {
			errs = append(errs, cb(context.Background(), evt))
		}
	}
	return errs
}

func openStream(t *testing.T, srv *httptest.Server, path string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	return r, cancel
}

// readFrame reads one SSE frame up to its blank line.
func readFrame(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	frame := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return frame
		}
		field, value, _ := strings.Cut(line, ": ")
		frame[field] = value
	}
}

func TestDomainStream(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()

	r, cancel := openStream(t, srv, "/domains/T1/events")
	require.Equal(t, 1, hub.live("T1"))

	errs := hub.publish("T1", events.Event{
		ID:   7,
		Type: events.NameOfferMadeType,
		Data: events.NameOfferMade{Ref: events.Ref{TokenID: "T1"}, Buyer: "0xb", Amount: "3"},
		Raw:  json.RawMessage(`{"tokenId":"T1","buyer":"0xb","amount":"3"}`),
	})
	assert.Equal(t, []error{nil}, errs)

	frame := readFrame(t, r)
	assert.Equal(t, "7", frame["id"])
	assert.Equal(t, "NAME_OFFER_MADE", frame["event"])

	var n notification
	require.NoError(t, json.Unmarshal([]byte(frame["data"]), &n))
	assert.Equal(t, int64(7), n.ID)
	assert.Equal(t, "T1", n.Domain)
	assert.JSONEq(t, `{"tokenId":"T1","buyer":"0xb","amount":"3"}`, string(n.Data))

	cancel()
	require.Eventually(t, func() bool { return hub.live("T1") == 0 }, time.Second, 5*time.Millisecond,
		"disconnect unsubscribes")
}

func TestGlobalStream(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()

	r, cancel := openStream(t, srv, "/events")
	defer cancel()
	require.Equal(t, 1, hub.live(notify.GlobalKey))

	hub.publish(notify.GlobalKey, events.Event{
		ID:   9,
		Type: events.NameCancelledType,
		Data: events.NameCancelled{Ref: events.Ref{Name: "beta.io"}},
	})
	frame := readFrame(t, r)
	assert.Equal(t, "9", frame["id"])
	assert.Contains(t, frame["data"], `"domain":"beta.io"`)
}

func TestStream_Heartbeat(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub, Heartbeat: 10 * time.Millisecond}))
	defer srv.Close()

	r, cancel := openStream(t, srv, "/events")
	defer cancel()

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)
}

func TestStream_SlowConsumerDrops(t *testing.T) {
	var captured notify.Callback
	hub := &capturingHub{onSubscribe: func(cb notify.Callback) { captured = cb }}
	h := newStreamHandler(hub, discardLogger(), 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleGlobal(&blockingWriter{ResponseRecorder: httptest.NewRecorder(), block: ctx.Done()}, req)
	}()
	require.Eventually(t, func() bool { return hub.subscribed() }, time.Second, time.Millisecond)

	// The writer never returns from the first frame, so the queue holds one and drops the rest.
	var dropped int
	for i := range 5 {
		if err := captured(context.Background(), events.Event{ID: int64(i + 1), Type: events.NamePurchasedType}); err != nil {
			assert.ErrorIs(t, err, errSlowSubscriber)
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 3)

	cancel()
	<-done
}

func TestStream_HubClosed(t *testing.T) {
	hub := newFakeHub()
	hub.err = notify.ErrClosed
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type capturingHub struct {
	mu          sync.Mutex
	onSubscribe func(notify.Callback)
	done        bool
}

func (h *capturingHub) Subscribe(_ string, cb notify.Callback) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubscribe(cb)
	h.done = true
	return func() {}, nil
}

func (h *capturingHub) subscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// blockingWriter stalls every write after the preamble until block closes.
type blockingWriter struct {
	*httptest.ResponseRecorder
	block  <-chan struct{}
	writes int
}

func (w *blockingWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		<-w.block
	}
	return w.ResponseRecorder.Write(b)
}
