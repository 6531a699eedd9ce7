package jwttoken

import (
	id "ticketeer/pkg/domain"
	authmw "ticketeer/pkg/platform/middleware/auth"
)

// ToMiddlewareClaims maps token claims onto the request actor. Subject was
// checked during validation.
func ToMiddlewareClaims(claims *Claims) *authmw.JWTClaims {
	userID, _ := id.ParseUserID(claims.Subject)
	return &authmw.JWTClaims{
		UserID: userID,
		Email:  claims.Email,
		Name:   claims.DisplayName(),
		Role:   id.ParseRole(claims.Role),
	}
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
