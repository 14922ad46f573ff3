package utils // package utils provides helpers for issuing access tokens

import (
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 JWT together with its expiry.  Tokens are
// normally minted by the identity provider; this helper exists for local
// runs and tests and produces exactly the claims middleware.JWTAuth reads.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// NewAccessToken signs a token whose subject is userID in decimal and whose
// role claim is role.
func NewAccessToken(secret string, userID uint64, role string, ttl time.Duration) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  strconv.FormatUint(userID, 10),
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
