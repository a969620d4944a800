package echoapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	echoapi "github.com/fancysnake/ludamus/apps/api/echo"
	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/user"
)

func Test_userApi_login(t *testing.T) {
	setup(t)

	usr := createUser(t, "Hero", "herogm", "hero@test.cd", nil, true)
	naughty := createUser(t, "N Dog", "ndog", "ndog@test.cd", nil, false)

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, echoapi.LoginRequest{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Username, Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", body: marchallObj(t, echoapi.LoginRequest{Username: naughty.Username, Password: "LocalHero!234"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Username, Password: "LocalHero!234"}), wantCode: http.StatusOK},
		{name: "login with email", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Email, Password: "LocalHero!234"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess the token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	setup(t)

	usr := createUser(t, "Hero", "herogm", "hero@test.cd", nil, true)
	naughty := createUser(t, "N Dog", "ndog", "ndog@test.cd", nil, false)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   usr.ID,
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * core.Conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		Username:     usr.Username,
	}
	unrefreshableToken, err := echoapi.GenerateToken(unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, usr), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_register(t *testing.T) {
	setup(t)

	admin := createUser(t, "Admin", "adminx", "admin@test.cd", user.AllRoles, true)
	pleb := createUser(t, "Pleb", "plebgm", "pleb@test.cd", nil, true)

	body := marchallObj(t, user.NewUser{
		Name:            "New Kid",
		Username:        "newkid",
		Email:           "kid@test.cd",
		Password:        "LocalHero!234",
		PasswordConfirm: "LocalHero!234",
	})

	tests := []httpTest{
		{name: "Auth required", body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", body: body, token: getToken(t, pleb), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Created", body: body, token: getToken(t, admin), wantCode: http.StatusCreated},
		{
			name: "Duplicate username", body: body, token: getToken(t, admin), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData user.User
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Username != "newkid" {
					t.Errorf("failed! username = %s", respData.Username)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_connectedUsers(t *testing.T) {
	setup(t)

	manager := createUser(t, "Manager", "managr", "manager@test.cd", nil, true)
	other := createUser(t, "Other", "othergm", "other@test.cd", nil, true)
	managerToken := getToken(t, manager)
	otherToken := getToken(t, other)

	birth := time.Date(2000, time.March, 12, 0, 0, 0, 0, time.UTC)

	// create
	req, rec := newAuthRequest(http.MethodPost, "/v1/users/connected", managerToken,
		marchallObj(t, user.NewConnectedUser{Name: "Kiddo", BirthDate: birth}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var kiddo user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &kiddo); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if !kiddo.IsConnected() || kiddo.ManagerID.String != manager.ID {
		t.Errorf("connected user not attached to manager: %+v", kiddo)
	}

	// cap at MaxConnectedUsers
	for i := 1; i < core.Conf.MaxConnectedUsers; i++ {
		req, rec = newAuthRequest(http.MethodPost, "/v1/users/connected", managerToken,
			marchallObj(t, user.NewConnectedUser{Name: fmt.Sprintf("Kiddo %d", i), BirthDate: birth}))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d failed! code = %v", i, rec.Code)
		}
	}
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/connected", managerToken,
		marchallObj(t, user.NewConnectedUser{Name: "One Too Many", BirthDate: birth}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: user.ErrConnectedUsersMaxed.Error()}),
	}, rec)

	tests := []httpTest{
		{name: "query (own)", method: http.MethodGet, path: "/v1/users/connected", token: managerToken, wantCode: http.StatusOK},
		{name: "query (other manager, empty)", method: http.MethodGet, path: "/v1/users/connected", token: otherToken, wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "retrieve (own)", method: http.MethodGet, path: "/v1/users/connected/" + kiddo.ID, token: managerToken, wantCode: http.StatusOK},
		{name: "retrieve (foreign)", method: http.MethodGet, path: "/v1/users/connected/" + kiddo.ID, token: otherToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{name: "destroy (foreign)", method: http.MethodDelete, path: "/v1/users/connected/" + kiddo.ID, token: otherToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// update
	req, rec = newAuthRequest(http.MethodPut, "/v1/users/connected/"+kiddo.ID, managerToken,
		marchallObj(t, user.UpdateConnectedUser{Name: "Kiddo Prime"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var updated user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if updated.Name != "Kiddo Prime" {
		t.Errorf("failed! name = %s", updated.Name)
	}

	// destroy
	req, rec = newAuthRequest(http.MethodDelete, "/v1/users/connected/"+kiddo.ID, managerToken)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("destroy failed! code = %v", rec.Code)
	}
	if _, err := usrSvc.GetConnected(manager, kiddo.ID); err == nil {
		t.Error("connected user still exists")
	}
}
