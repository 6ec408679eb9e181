// Package handler implements the tool operations exposed through the
// dispatcher, plus request authentication for the HTTP surface.
package handler

import (
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "vantage_session"

// header does a case-insensitive lookup in API Gateway headers.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// bearerToken pulls the JWT from the Authorization header, falling back to
// the session cookie.
func bearerToken(req events.APIGatewayProxyRequest) string {
	if auth := header(req, "Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, sessionCookie+"=") {
			return strings.TrimPrefix(part, sessionCookie+"=")
		}
	}
	return ""
}

// GetUserID verifies the request's bearer JWT and returns its subject claim.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := bearerToken(req)
	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok {
			return sub, nil
		}
	}
	return "", fmt.Errorf("invalid token claims")
}
