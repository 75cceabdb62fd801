package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender logs that a message was rendered instead of delivering it. The
// body carries live reset links and is never written out.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(_ context.Context, to, template string, data map[string]string) error {
	subject, _, err := Render(template, data)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"to":       to,
		"template": template,
		"subject":  subject,
	}).Info("Mail rendered")
	return nil
}
