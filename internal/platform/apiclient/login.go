package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/ehr/medtrack/internal/domain/adherence"
	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginUser struct {
	ID     adherence.WireID `json:"id"`
	Email  string           `json:"email"`
	Nombre string           `json:"nombre"`
	Rol    string           `json:"rol"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

// Login exchanges credentials for a session. Input is validated before any
// network call, and nothing is sent as a bearer.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	const op = "login"
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, adherence.NewError(adherence.KindValidation, op, "email and password are required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, adherence.NewError(adherence.KindValidation, op, "email is not valid", err)
	}

	ctx = auth.WithBearer(ctx, "")
	data, _, err := c.do(ctx, op, http.MethodPost, PathLogin, loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, adherence.NewError(adherence.KindUpstream, op, "malformed login payload", err)
	}
	if resp.Token == "" {
		return nil, adherence.NewError(adherence.KindUpstream, op, "login response carries no token", nil)
	}

	s := &session.Session{
		Token: resp.Token,
		User: session.User{
			ID:    string(resp.User.ID),
			Email: resp.User.Email,
			Name:  resp.User.Nombre,
			Role:  resp.User.Rol,
		},
		IssuedAt: c.now().UTC(),
	}
	if s.User.Email == "" {
		s.User.Email = email
	}

	// Tokens that are not JWTs are still accepted; they just carry no expiry.
	if claims, err := auth.ParseUnverifiedClaims(resp.Token); err == nil {
		if claims.ExpiresAt != nil {
			s.ExpiresAt = claims.ExpiresAt.Time.UTC()
		}
		if s.User.ID == "" {
			s.User.ID = claims.Subject
		}
		if s.User.Role == "" {
			if roles := claims.AllRoles(); len(roles) > 0 {
				s.User.Role = roles[0]
			}
		}
	}

	c.logger.Info().Str("user_id", s.User.ID).Str("role", s.User.Role).Msg("logged in")
	return s, nil
}
