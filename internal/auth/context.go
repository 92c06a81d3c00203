package auth

import (
	"context"
)

// Context keys for authentication data
type contextKey string

const (
	AuthTypeKey  contextKey = "auth_type"
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
	TokenJTIKey  contextKey = "token_jti"
	RequestIDKey contextKey = "request_id"
	ClientIPKey  contextKey = "client_ip"
)

// AuthType represents the type of authentication used
type AuthType string

// RoleAdmin is required for operator endpoints (disputes).
const RoleAdmin = "admin"

const (
	AuthTypeJWT  AuthType = "jwt"
	AuthTypeCron AuthType = "cron"
	AuthTypeNone AuthType = "none"
)

// AuthInfo contains authentication information from the context
type AuthInfo struct {
	Type      AuthType
	UserID    string
	Role      string
	TokenJTI  string
	RequestID string
	ClientIP  string
}

// WithUser stores an authenticated user on the context.
func WithUser(ctx context.Context, userID, jti string) context.Context {
	ctx = context.WithValue(ctx, AuthTypeKey, string(AuthTypeJWT))
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if jti != "" {
		ctx = context.WithValue(ctx, TokenJTIKey, jti)
	}
	return ctx
}

// WithRole stores the caller's role claim.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// HasRole reports whether the authenticated caller carries role.
func HasRole(ctx context.Context, role string) bool {
	got, _ := ctx.Value(RoleKey).(string)
	return got != "" && got == role
}

// WithRequest stores request metadata used in logs.
func WithRequest(ctx context.Context, requestID, clientIP string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	return context.WithValue(ctx, ClientIPKey, clientIP)
}

// UserID returns the authenticated user id, or "" when the request is anonymous.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// RequestID returns the request id assigned by the auth middleware.
func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// GetAuthInfo extracts authentication information from the context
func GetAuthInfo(ctx context.Context) *AuthInfo {
	info := &AuthInfo{
		Type: AuthTypeNone,
	}

	if authType, ok := ctx.Value(AuthTypeKey).(string); ok {
		info.Type = AuthType(authType)
	}
	info.UserID = UserID(ctx)
	info.Role, _ = ctx.Value(RoleKey).(string)
	if jti, ok := ctx.Value(TokenJTIKey).(string); ok {
		info.TokenJTI = jti
	}
	info.RequestID = RequestID(ctx)
	if clientIP, ok := ctx.Value(ClientIPKey).(string); ok {
		info.ClientIP = clientIP
	}

	return info
}

// IsAuthenticated checks if the context contains valid authentication
func IsAuthenticated(ctx context.Context) bool {
	authType, ok := ctx.Value(AuthTypeKey).(string)
	return ok && authType != "" && authType != string(AuthTypeNone)
}
