package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client resolves user ids to contact addresses through the identity
// service's internal profile endpoint. Profiles are owned by that service;
// nothing is cached here beyond a single request.
type Client struct {
	baseURL      string
	serviceToken string
	http         *http.Client
}

func NewClient(baseURL, serviceToken string) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		http:         &http.Client{Timeout: 5 * time.Second},
	}
}

type profileResponse struct {
	Data struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"data"`
}

func (c *Client) fetch(ctx context.Context, userID string) (*profileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/v1/users/%s/contact", c.baseURL, userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned %d for user %s", resp.StatusCode, userID)
	}

	var pr profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

func (c *Client) Email(ctx context.Context, userID string) (string, error) {
	pr, err := c.fetch(ctx, userID)
	if err != nil {
		return "", err
	}
	if pr.Data.Email == "" {
		return "", fmt.Errorf("user %s has no email on file", userID)
	}
	return pr.Data.Email, nil
}

func (c *Client) Phone(ctx context.Context, userID string) (string, error) {
	pr, err := c.fetch(ctx, userID)
	if err != nil {
		return "", err
	}
	if pr.Data.Phone == "" {
		return "", fmt.Errorf("user %s has no phone on file", userID)
	}
	return pr.Data.Phone, nil
}
