package mail

import (
	"bytes"
	"fmt"
	"text/template"
)

type message struct {
	subject string
	body    *template.Template
}

var templates = map[string]message{
	TemplatePasswordReset: {
		subject: "Reset your password",
		body: template.Must(template.New(TemplatePasswordReset).Parse(
			`Hello {{.first_name}},

We received a request to reset your password. Use the link below within {{.expires_in}}:

{{.reset_url}}

If you did not ask for this, you can ignore this email.
`)),
	},
}

// Render returns the subject and plain text body for a template.
func Render(name string, data map[string]string) (string, string, error) {
	msg, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return msg.subject, buf.String(), nil
}
