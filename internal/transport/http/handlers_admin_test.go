package httptransport

//go:generate mockgen -source=router.go -destination=mocks/mocks.go -package=mocks SyncService

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"domamart/internal/events"
	jwttoken "domamart/internal/jwt_token"
	"domamart/internal/syncer"
	"domamart/internal/transport/http/mocks"
	"domamart/pkg/platform/httputil"
	"domamart/pkg/platform/sentinel"
	"domamart/pkg/testutil"
)

type AdminHandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	sync   *mocks.MockSyncService
	router http.Handler
	token  string
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func (s *AdminHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.sync = mocks.NewMockSyncService(s.ctrl)
	tokens := jwttoken.NewService("test-key", "domamart")
	s.router = NewRouter(Deps{Sync: s.sync, AdminTokens: tokens})

	var err error
	s.token, err = tokens.Issue("ops", jwttoken.RoleAdmin, time.Hour)
	s.Require().NoError(err)
}

func (s *AdminHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *AdminHandlerSuite) post(path string, body any) *http.Request {
	return testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, path, body), s.token)
}

// =============================================================================
// Auth
// =============================================================================

func (s *AdminHandlerSuite) TestRequiresToken() {
	for _, path := range []string{"/admin/sync/run", "/admin/sync/reset"} {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path, nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, httputil.CodeUnauthorized)
	}
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/admin/sync/status"))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}

// =============================================================================
// Run
// =============================================================================

func (s *AdminHandlerSuite) TestRun() {
	s.Run("forwards types and limit", func() {
		s.sync.EXPECT().
			ProcessEvents(gomock.Any(), []events.Type{events.NameListedType}, 5).
			Return(syncer.Result{Polled: 2, Handled: 2, Acked: 2}, nil)

		rr := testutil.DoRequest(s.router, s.post("/admin/sync/run", map[string]any{
			"eventTypes": []string{"NAME_LISTED"},
			"limit":      5,
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		res := testutil.UnmarshalResponse[syncer.Result](s.T(), rr)
		s.Equal(2, res.Polled)
		s.Equal(2, res.Acked)
	})

	s.Run("empty body uses defaults", func() {
		s.sync.EXPECT().ProcessEvents(gomock.Any(), []events.Type{}, 0).Return(syncer.Result{}, nil)
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/run", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("in-flight cycle reports skipped", func() {
		s.sync.EXPECT().ProcessEvents(gomock.Any(), gomock.Any(), gomock.Any()).Return(syncer.Result{Skipped: true}, nil)
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/run", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.True(testutil.UnmarshalResponse[syncer.Result](s.T(), rr).Skipped)
	})

	s.Run("negative limit is rejected", func() {
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/run", map[string]any{"limit": -1}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, httputil.CodeBadRequest)
	})

	s.Run("feed outage maps to 503", func() {
		s.sync.EXPECT().ProcessEvents(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(syncer.Result{}, fmt.Errorf("poll feed: %w", sentinel.ErrUnavailable))
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/run", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, httputil.CodeUnavailable)
	})
}

// =============================================================================
// Reset
// =============================================================================

func (s *AdminHandlerSuite) TestReset() {
	s.Run("rewinds to the event", func() {
		s.sync.EXPECT().ResetPollingToEvent(gomock.Any(), int64(42)).Return(nil)
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/reset", map[string]any{"eventId": 42}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		res := testutil.UnmarshalResponse[resetResponse](s.T(), rr)
		s.Equal(resetResponse{EventID: 42, Status: "reset"}, *res)
	})

	s.Run("missing event id", func() {
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/reset", map[string]any{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, httputil.CodeBadRequest)
	})

	s.Run("unknown field", func() {
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/reset", map[string]any{"id": 1}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, httputil.CodeBadRequest)
	})

	s.Run("rejected by the feed", func() {
		s.sync.EXPECT().ResetPollingToEvent(gomock.Any(), int64(9)).
			Return(fmt.Errorf("reset feed cursor: %w: unknown event", sentinel.ErrConflict))
		rr := testutil.DoRequest(s.router, s.post("/admin/sync/reset", map[string]any{"eventId": 9}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, httputil.CodeConflict)
	})
}

// =============================================================================
// Status
// =============================================================================

func (s *AdminHandlerSuite) TestStatus() {
	s.Run("reports checkpoint", func() {
		id := int64(101)
		s.sync.EXPECT().Status(gomock.Any()).Return(syncer.Status{Polling: true, LastProcessedEventID: &id}, nil)

		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/admin/sync/status"), s.token)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		st := testutil.UnmarshalResponse[syncer.Status](s.T(), rr)
		s.True(st.Polling)
		s.Equal(int64(101), *st.LastProcessedEventID)
	})

	s.Run("store failure is internal", func() {
		s.sync.EXPECT().Status(gomock.Any()).Return(syncer.Status{}, errors.New("connection refused"))

		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/admin/sync/status"), s.token)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, httputil.CodeInternal)
	})
}
