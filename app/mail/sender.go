// Package mail delivers templated notifications to users.
package mail

import (
	"context"
	"errors"
)

const TemplatePasswordReset = "password_reset"

var ErrUnknownTemplate = errors.New("unknown mail template")

type Sender interface {
	Send(ctx context.Context, to, template string, data map[string]string) error
}
