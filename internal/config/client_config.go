package config

import (
	"strings"
	"time"
)

type ClientConfig interface {
	GetBaseURL() string
	GetTenantHeader() string
	GetTenantID() string
	GetRequestTimeout() time.Duration
	GetTokenExpiryBuffer() time.Duration
}

type Client struct{}

var _ ClientConfig = Client{}

// GetBaseURL returns the backend API root without a trailing slash (e.g. "https://api.example.com")
func (Client) GetBaseURL() string {
	return strings.TrimRight(GetEnv("ATTENDANCE_API_URL", "http://localhost:8080"), "/")
}

func (Client) GetTenantHeader() string {
	return GetEnv("TENANT_HEADER", "X-Tenant-Id")
}

func (Client) GetTenantID() string {
	return GetEnv("TENANT_ID", "")
}

func (Client) GetRequestTimeout() time.Duration {
	return GetDuration("REQUEST_TIMEOUT", 15*time.Second)
}

// GetTokenExpiryBuffer is how long before expiry an access token is already treated as expired
func (Client) GetTokenExpiryBuffer() time.Duration {
	return GetDuration("TOKEN_EXPIRY_BUFFER", 30*time.Second)
}
