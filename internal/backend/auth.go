package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ismart-scholar/workbench/internal/models"
)

// Login exchanges credentials for the user record.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	body, err := jsonBody(models.Credentials{Email: email, Password: password})
	if err != nil {
		return models.User{}, err
	}

	var resp models.LoginResponse
	err = c.makeRequest(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/login",
		route:       "/auth/login",
		body:        body,
		contentType: "application/json",
	}, &resp)
	if err != nil {
		return models.User{}, fmt.Errorf("login failed: %w", err)
	}
	if resp.User.UserID == 0 {
		return models.User{}, &DecodeError{Route: "/auth/login", Err: fmt.Errorf("response has no user")}
	}
	if resp.User.Email == "" {
		resp.User.Email = email
	}
	return resp.User, nil
}

// Signup creates an account.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) error {
	body, err := jsonBody(req)
	if err != nil {
		return err
	}
	err = c.makeRequest(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/signup",
		route:       "/auth/signup",
		body:        body,
		contentType: "application/json",
	}, nil)
	if err != nil {
		return fmt.Errorf("signup failed: %w", err)
	}
	return nil
}
