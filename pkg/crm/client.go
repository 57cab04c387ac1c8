// Package crm is a typed client for the CRM backend REST API.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crmdash/pkg/apiclient"
	"crmdash/pkg/session"
)

// Requester is the subset of *apiclient.Client the CRM client needs.
type Requester interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// ErrMissingToken is returned when an authentication exchange succeeds
// without handing back a token.
var ErrMissingToken = errors.New("crm: response carried no token")

// Client wraps a Requester with the backend's endpoints.
type Client struct {
	api Requester
}

// New returns a Client issuing requests through api.
func New(api Requester) (*Client, error) {
	if api == nil {
		return nil, errors.New("crm: requester is required")
	}
	return &Client{api: api}, nil
}

// Login exchanges credentials for a bearer token. Invalid forms fail with
// *ValidationError before any request is made.
func (c *Client) Login(ctx context.Context, form LoginForm) (string, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := Validate(form); err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.api.Post(ctx, "/api/login", form, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", ErrMissingToken
	}
	return resp.Token, nil
}

// Register creates an organisation owner account.
func (c *Client) Register(ctx context.Context, form RegisterForm) (Registration, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := Validate(form); err != nil {
		return Registration{}, err
	}

	var reg Registration
	if err := c.api.Post(ctx, "/api/register", form, &reg); err != nil {
		return Registration{}, err
	}
	if strings.TrimSpace(reg.Token) == "" {
		return Registration{}, ErrMissingToken
	}
	return reg, nil
}

// ResolveUser fetches the profile of the current token. It makes Client a
// session.Resolver.
func (c *Client) ResolveUser(ctx context.Context) (session.Profile, error) {
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/api/user", &raw); err != nil {
		return session.Profile{}, err
	}

	var wrapped struct {
		User *session.Profile `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return *wrapped.User, nil
	}

	var profile session.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return session.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

// Metrics returns the dashboard aggregates for userID.
func (c *Client) Metrics(ctx context.Context, userID string) (Metrics, error) {
	if strings.TrimSpace(userID) == "" {
		return Metrics{}, errors.New("crm: user id is required")
	}
	var m Metrics
	if err := c.api.Get(ctx, "/api/metrics/all/"+url.PathEscape(userID), &m); err != nil {
		return Metrics{}, err
	}
	return m, nil
}

// MonthlyData returns the per-month won/lost breakdown.
func (c *Client) MonthlyData(ctx context.Context) (MonthlyData, error) {
	var m MonthlyData
	if err := c.api.Get(ctx, "/api/metrics/month/data", &m); err != nil {
		return MonthlyData{}, err
	}
	return m, nil
}

// Contacts lists every contact visible to the session.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.api.Get(ctx, "/api/contact/all", &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// Contact returns a single contact.
func (c *Client) Contact(ctx context.Context, id string) (Contact, error) {
	if strings.TrimSpace(id) == "" {
		return Contact{}, errors.New("crm: contact id is required")
	}
	var resp struct {
		Contact *Contact `json:"contact"`
	}
	if err := c.api.Get(ctx, "/api/contact/view/"+url.PathEscape(id), &resp); err != nil {
		return Contact{}, err
	}
	if resp.Contact == nil {
		return Contact{}, &apiclient.StatusError{
			Method: http.MethodGet,
			Path:   "/api/contact/view/" + id,
			Code:   http.StatusNotFound,
		}
	}
	return *resp.Contact, nil
}

// AddContact validates and submits a new contact. Status defaults to lead.
func (c *Client) AddContact(ctx context.Context, form ContactForm) (Contact, error) {
	form.Email = strings.TrimSpace(form.Email)
	if form.Status == "" {
		form.Status = ContactStatusLead
	}
	if err := Validate(form); err != nil {
		return Contact{}, err
	}

	var resp struct {
		Contact *Contact `json:"contact"`
	}
	if err := c.api.Post(ctx, "/api/contact/add", form, &resp); err != nil {
		return Contact{}, err
	}
	if resp.Contact != nil {
		return *resp.Contact, nil
	}
	return Contact{
		Name:       form.Name,
		Email:      form.Email,
		Phone:      form.Phone,
		Company:    form.Company,
		Position:   form.Position,
		Notes:      form.Notes,
		Status:     form.Status,
		AssignedTo: form.AssignedTo,
	}, nil
}

// DeleteContact removes a contact by id.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("crm: contact id is required")
	}
	return c.api.Delete(ctx, "/api/contact/delete/"+url.PathEscape(id), nil)
}

// Tasks lists the task board.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.api.Get(ctx, "/api/tasks/all", &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Users lists the organisation's users for assignment pickers.
func (c *Client) Users(ctx context.Context) ([]Assignee, error) {
	var users []Assignee
	if err := c.api.Get(ctx, "/api/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// LoginFailureMessage renders a failed sign-in as the form-level
// notification shown to the user.
func LoginFailureMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	}

	switch apiclient.StatusCode(err) {
	case http.StatusNotFound:
		return "Account not found. Please sign up first."
	case http.StatusUnauthorized:
		return "Incorrect password. Please try again."
	case http.StatusBadRequest:
		if msg := apiclient.ServerMessage(err); msg != "" {
			return msg
		}
		return "Invalid credentials."
	}
	if msg := apiclient.ServerMessage(err); msg != "" {
		return msg
	}
	return "Login failed"
}

// RegisterFailureMessage renders a failed registration for the form.
func RegisterFailureMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if msg := apiclient.ServerMessage(err); msg != "" {
		return msg
	}
	if err == nil {
		return ""
	}
	return "Registration failed"
}
