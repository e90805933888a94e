package twilio

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessGrant is the video grant embedded in an access token.
type AccessGrant struct {
	Identity string
	Room     string
}

// NewAccessToken signs a Twilio access token (HS256, "twilio-fpa;v=1")
// granting identity access to room.
func NewAccessToken(accountSID, apiKey, apiSecret string, grant AccessGrant, ttl time.Duration, now time.Time) (string, error) {
	if accountSID == "" || apiKey == "" || apiSecret == "" {
		return "", errors.New("twilio account sid, api key, and secret are required")
	}
	if grant.Identity == "" {
		return "", errors.New("identity is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	video := map[string]any{}
	if grant.Room != "" {
		video["room"] = grant.Room
	}
	claims := jwt.MapClaims{
		"jti": fmt.Sprintf("%s-%d", apiKey, now.Unix()),
		"iss": apiKey,
		"sub": accountSID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"grants": map[string]any{
			"identity": grant.Identity,
			"video":    video,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = "twilio-fpa;v=1"
	signed, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}
