package membershipsvc

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/event"
)

// Client looks up membership counts on the external membership API.
// A user's slot allowance derives from how many memberships they hold.
type Client struct {
	url    string
	token  string
	rest   rest.Client
	logger core.Logger
}

var _ event.MembershipClient = (*Client)(nil)

func NewClient(logger core.Logger) *Client {
	return &Client{
		url:    core.Conf.Membership.URL,
		token:  core.Conf.Membership.Token,
		rest:   rest.Client{HTTPClient: &http.Client{Timeout: core.Conf.Membership.Timeout}},
		logger: logger,
	}
}

func (c *Client) IsConfigured() bool {
	return c.url != "" && c.token != ""
}

// FetchMembershipCount queries the API for the number of active memberships
// held by the given email.
func (c *Client) FetchMembershipCount(email string) (int, error) {
	req := rest.Request{
		Method:  rest.Get,
		BaseURL: c.url,
		Headers: map[string]string{
			"Authorization": "Token " + c.token,
			"Accept":        "application/json",
		},
		QueryParams: map[string]string{"email": email},
	}

	res, err := c.rest.Send(req)
	if err != nil {
		c.logger.Error("membership api request failed", err, map[string]interface{}{"email": email})
		return 0, errors.Wrap(err, "fetching membership count")
	}
	if res.StatusCode >= http.StatusBadRequest {
		c.logger.Error("membership api returned an error", map[string]interface{}{
			"email": email, "status": res.StatusCode, "body": res.Body,
		})
		return 0, errors.Errorf("membership api: unexpected status %d", res.StatusCode)
	}

	var body struct {
		MembershipCount int `json:"membership_count"`
	}
	if err = json.Unmarshal([]byte(res.Body), &body); err != nil {
		return 0, errors.Wrap(err, "decoding membership response")
	}
	return body.MembershipCount, nil
}
