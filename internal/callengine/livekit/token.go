package livekit

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the join URL carries an expired token.
var ErrTokenExpired = errors.New("access token expired")

// TokenClaims is the subset of a LiveKit access token the client logs and checks.
type TokenClaims struct {
	Identity  string
	Room      string
	ExpiresAt time.Time
}

type accessClaims struct {
	Video struct {
		Room     string `json:"room"`
		RoomJoin bool   `json:"roomJoin"`
	} `json:"video"`
	jwt.RegisteredClaims
}

// InspectToken reads claims without verifying the signature; the server does that.
// It fails early on expired tokens and tokens without a room-join grant.
func InspectToken(token string) (TokenClaims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("parse access token: %w", err)
	}

	out := TokenClaims{
		Identity: claims.Subject,
		Room:     claims.Video.Room,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
		if time.Now().After(out.ExpiresAt) {
			return out, ErrTokenExpired
		}
	}
	if !claims.Video.RoomJoin {
		return out, errors.New("access token has no room join grant")
	}
	return out, nil
}

// JoinURL attaches an access token to a server URL.
func JoinURL(serverURL, token string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL + "?access_token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// SplitJoinURL separates a join URL into server URL and access token.
func SplitJoinURL(joinURL string) (serverURL, token string, err error) {
	u, err := url.Parse(joinURL)
	if err != nil {
		return "", "", fmt.Errorf("parse join url: %w", err)
	}
	q := u.Query()
	token = q.Get("access_token")
	if token == "" {
		return "", "", errors.New("join url has no access_token")
	}
	q.Del("access_token")
	u.RawQuery = q.Encode()
	return u.String(), token, nil
}
