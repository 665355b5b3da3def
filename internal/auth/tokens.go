package auth

import (
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

const (
    TypeAccess  = "access"
    TypeRefresh = "refresh"
)

// Claims carried by both token kinds. Auth status is never embedded, it is
// re-read from the store on every protected call.
type Claims struct {
    Type string `json:"typ"`
    jwt.RegisteredClaims
}

func sign(claims Claims, secret []byte) (string, error) {
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    return token.SignedString(secret)
}

// parse verifies the HS256 signature of raw. Time based claims are only
// validated when validate is set.
func parse(raw string, secret []byte, validate bool, now func() time.Time) (*Claims, error) {
    opts := []jwt.ParserOption{
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithTimeFunc(now),
    }
    if !validate {
        opts = append(opts, jwt.WithoutClaimsValidation())
    }
    claims := &Claims{}
    token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
        }
        return secret, nil
    }, opts...)
    if err != nil {
        return nil, err
    }
    if !token.Valid {
        return nil, jwt.ErrTokenSignatureInvalid
    }
    return claims, nil
}
