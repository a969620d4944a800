package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/fancysnake/ludamus/apps/api/echo"
	"github.com/fancysnake/ludamus/core/event"
	"github.com/fancysnake/ludamus/core/proposal"
	"github.com/fancysnake/ludamus/core/session"
	"github.com/fancysnake/ludamus/core/user"
	emailsvc "github.com/fancysnake/ludamus/services/email"
	dummydb "github.com/fancysnake/ludamus/storage/database/dummy"
)

const testDomain = "con.ludamus.test"

var (
	db      *dummydb.DB
	sphere  event.Sphere
	usrSvc  user.Service
	evtSvc  event.Service
	sessSvc session.Service
	propSvc proposal.Service
	app     echoapi.Server

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errNotFound     = httpErr{Error: "not found"}
	errForbidden    = httpErr{Error: "permission denied"}
)

func setup(t *testing.T) echoapi.Server {
	var err error
	db, err = dummydb.Open()
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	sphere = db.AddSphere(event.Sphere{Name: "Ludamus Con", Domain: testDomain, IsOpen: true})

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock()
	usrSvc = user.NewServiceMock(dummydb.NewUserRepository(db), mailSvc)
	evtSvc = event.NewService(dummydb.NewEventRepository(db), nil)
	sessSvc = session.NewService(dummydb.NewSessionRepository(db), evtSvc, usrSvc, mailSvc)
	propSvc = proposal.NewService(dummydb.NewProposalRepository(db), sessSvc, evtSvc)

	// set up server
	app = echoapi.NewServer(
		echoapi.ServerDeps{
			DisableReqLogs: true,
			UserSvc:        usrSvc,
			EventSvc:       evtSvc,
			SessionSvc:     sessSvc,
			ProposalSvc:    propSvc,
		},
	)
	return app
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	host     string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Host = testDomain
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := echoapi.GetUserClaims(usr)
	token, err := echoapi.GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func createUser(t *testing.T, name, uname, email string, roles []string, active bool) user.User {
	usr, err := usrSvc.Create(user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        "LocalHero!234",
		PasswordConfirm: "LocalHero!234",
		Roles:           roles,
	})
	if err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	if !active {
		f := false
		if usr, err = usrSvc.Update(usr.ID, user.UpdateUser{IsActive: &f}); err != nil {
			t.Fatalf("deactivating user %s: %v", name, err)
		}
	}
	return usr
}

// createEvent seeds a published event whose agenda window surrounds now.
func createEvent(t *testing.T, name string) event.Event {
	now := time.Now().UTC()
	ev, err := evtSvc.Create(sphere, event.NewEvent{
		Name:              name,
		StartTime:         now.Add(12 * time.Hour),
		EndTime:           now.Add(36 * time.Hour),
		ProposalStartTime: now.Add(-48 * time.Hour),
		ProposalEndTime:   now.Add(2 * time.Hour),
		PublicationTime:   now.Add(-1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("creating event %s: %v", name, err)
	}
	return ev
}

// createEnrollmentConfig opens enrollment on the event for the next few hours.
func createEnrollmentConfig(t *testing.T, ev event.Event, anonymous bool, maxWaitlist int) event.EnrollmentConfig {
	now := time.Now().UTC()
	cfg, err := evtSvc.CreateEnrollmentConfig(ev, event.NewEnrollmentConfig{
		StartTime:                now.Add(-1 * time.Hour),
		EndTime:                  now.Add(48 * time.Hour),
		PercentageSlots:          100,
		MaxWaitlistSessions:      maxWaitlist,
		AllowAnonymousEnrollment: anonymous,
	})
	if err != nil {
		t.Fatalf("creating enrollment config: %v", err)
	}
	return cfg
}

// createSession seeds a confirmed session scheduled in its own space.
func createSession(t *testing.T, ev event.Event, title string, limit int, start, end time.Time) session.Session {
	sp, err := evtSvc.CreateSpace(ev, event.NewSpace{Name: title + " room"})
	if err != nil {
		t.Fatalf("creating space: %v", err)
	}
	sess, err := sessSvc.Create(ev, sp, session.NewSession{
		Title:             title,
		PresenterName:     "The GM",
		ParticipantsLimit: limit,
		StartTime:         start,
		EndTime:           end,
	})
	if err != nil {
		t.Fatalf("creating session %s: %v", title, err)
	}
	if _, err = sessSvc.ConfirmAgendaItem(sess); err != nil {
		t.Fatalf("confirming session %s: %v", title, err)
	}
	return sess
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
