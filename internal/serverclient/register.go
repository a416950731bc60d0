package serverclient

import "context"

type registerRequest struct {
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	Invitation string `json:"invitation_token"`
}

// RegisterMachine exchanges an invitation token for a machine identity and
// its first bearer token, which it returns. The passed Client carries no
// token until this call succeeds, so it is a package-level function rather
// than a method.
func RegisterMachine(ctx context.Context, c *Client, name, platform, invitationToken string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, "POST", "/api/machines/register", nil,
		registerRequest{Name: name, Platform: platform, Invitation: invitationToken}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// WithToken returns a copy of the client authenticated with token.
func (c *Client) WithToken(token string) *Client {
	return &Client{baseURL: c.baseURL, token: token, http: c.http}
}
