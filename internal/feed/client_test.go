package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"domamart/internal/events"
	"domamart/pkg/platform/sentinel"
)

type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	client *Client

	mu       sync.Mutex
	requests []*http.Request
	handler  http.HandlerFunc
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.requests = nil
	s.handler = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r)
		h := s.handler
		s.mu.Unlock()
		h(w, r)
	}))

	var err error
	s.client, err = New(s.server.URL, WithAPIKey("secret"), WithTimeout(2*time.Second))
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) lastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.requests)
	return s.requests[len(s.requests)-1]
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ClientSuite) TestNew() {
	s.Run("empty base URL returns error", func() {
		_, err := New("")
		s.Error(err)
		s.Contains(err.Error(), "feed base URL is required")
	})

	s.Run("relative base URL returns error", func() {
		_, err := New("/v1")
		s.Error(err)
	})
}

// =============================================================================
// Poll Tests
// =============================================================================

func (s *ClientSuite) TestPoll() {
	ctx := context.Background()

	s.Run("sends repeated event types, limit and finalizedOnly", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"events":[
				{"id":7,"type":"NAME_LISTED","data":{"tokenId":"T1","price":"5"}},
				{"id":8,"type":"NAME_EXPIRED","data":{"tokenId":"T2"}}
			],"hasMoreEvents":true,"lastId":8}`))
		}

		res, err := s.client.Poll(ctx, PollRequest{
			EventTypes:    []events.Type{events.NameListedType, events.NameExpiredType},
			Limit:         10,
			FinalizedOnly: true,
		})
		s.Require().NoError(err)

		req := s.lastRequest()
		s.Equal(http.MethodGet, req.Method)
		s.Equal("/v1/poll", req.URL.Path)
		s.Equal([]string{"NAME_LISTED", "NAME_EXPIRED"}, req.URL.Query()["eventTypes"])
		s.Equal("10", req.URL.Query().Get("limit"))
		s.Equal("true", req.URL.Query().Get("finalizedOnly"))
		s.Empty(req.URL.Query().Get("cursor"))
		s.Equal("secret", req.Header.Get("Api-Key"))

		s.Require().Len(res.Events, 2)
		s.Equal(int64(7), res.Events[0].ID)
		s.IsType(events.NameListed{}, res.Events[0].Data)
		s.True(res.HasMoreEvents)
		s.Equal(int64(8), res.LastID)
	})

	s.Run("includes cursor when set", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"events":[],"hasMoreEvents":false,"lastId":0}`))
		}
		_, err := s.client.Poll(ctx, PollRequest{Cursor: "abc"})
		s.Require().NoError(err)
		s.Equal("abc", s.lastRequest().URL.Query().Get("cursor"))
		s.Equal("false", s.lastRequest().URL.Query().Get("finalizedOnly"))
	})

	s.Run("server error maps to unavailable", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}
		_, err := s.client.Poll(ctx, PollRequest{})
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrUnavailable))

		var statusErr *StatusError
		s.Require().True(errors.As(err, &statusErr))
		s.Equal(http.StatusBadGateway, statusErr.StatusCode)
		s.Contains(statusErr.Body, "upstream down")
	})

	s.Run("client error is not unavailable", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}
		_, err := s.client.Poll(ctx, PollRequest{})
		s.Require().Error(err)
		s.False(errors.Is(err, sentinel.ErrUnavailable))
	})

	s.Run("a malformed entry does not fail the page", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"events":[
				{"id":101,"type":"NAME_LISTED","timestamp":"2024-05-01T10:00:00Z","data":{"tokenId":"T1","price":"5"}},
				{"id":102,"type":"NAME_LISTED","timestamp":"2024-05-01 10:00:01","data":{"tokenId":"T2","price":"6"}},
				{"type":"NAME_EXPIRED","data":{"tokenId":"T3"}},
				{"id":104,"type":"NAME_EXPIRED","data":{"tokenId":"T4"}}
			],"hasMoreEvents":false,"lastId":104}`))
		}

		res, err := s.client.Poll(ctx, PollRequest{})
		s.Require().NoError(err)
		s.Require().Len(res.Events, 3)
		s.Equal(1, res.Dropped)

		s.Equal(int64(101), res.Events[0].ID)
		s.NoError(res.Events[0].Err)

		s.Equal(int64(102), res.Events[1].ID)
		s.Require().Error(res.Events[1].Err)
		s.Contains(res.Events[1].Err.Error(), "timestamp")
		s.Equal("T2", res.Events[1].TokenID())

		s.Equal(int64(104), res.Events[2].ID)
		s.NoError(res.Events[2].Err)
		s.Equal(int64(104), res.LastID)
	})

	s.Run("invalid JSON body is an error", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}
		_, err := s.client.Poll(ctx, PollRequest{})
		s.Error(err)
	})
}

// =============================================================================
// Ack / Reset Tests
// =============================================================================

func (s *ClientSuite) TestAck() {
	ctx := context.Background()

	s.Run("empty body is success", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

		res, err := s.client.Ack(ctx, 101)
		s.Require().NoError(err)
		s.True(res.Success)

		req := s.lastRequest()
		s.Equal(http.MethodPost, req.Method)
		s.Equal("/v1/poll/ack/101", req.URL.Path)
	})

	s.Run("JSON body is decoded", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"cursor ahead"}`))
		}
		res, err := s.client.Ack(ctx, 5)
		s.Require().NoError(err)
		s.False(res.Success)
		s.Equal("cursor ahead", res.Message)
	})

	s.Run("non-2xx is an error", func() {
		s.handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, err := s.client.Ack(ctx, 5)
		s.Error(err)
	})
}

func (s *ClientSuite) TestReset() {
	s.handler = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	res, err := s.client.Reset(context.Background(), 42)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("/v1/poll/reset/42", s.lastRequest().URL.Path)
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = c.Poll(context.Background(), PollRequest{})
	assert.Error(t, err)
}

func TestDecodeAckBody(t *testing.T) {
	assert.True(t, decodeAckBody(nil).Success)
	assert.True(t, decodeAckBody([]byte("  \n")).Success)
	assert.True(t, decodeAckBody([]byte("OK")).Success)
	assert.False(t, decodeAckBody([]byte(`{"success":false}`)).Success)
}
