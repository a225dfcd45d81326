// Package transport moves raw RFC 5322 messages between mailboxes: SMTP
// and IMAP for real accounts, and an in-process network for tests and
// demos.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// AuthError indicates that a server rejected the configured credentials.
type AuthError struct {
	Server  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Server, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Fetcher returns messages that arrived since the last call.
type Fetcher interface {
	Fetch(ctx context.Context) ([][]byte, error)
}

// Handler processes one raw incoming message.
type Handler func(ctx context.Context, raw []byte) error

// ServerConfig holds the settings to reach an IMAP or SMTP server.
type ServerConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

func (c ServerConfig) addr() string {
	return c.Host + ":" + c.Port
}
