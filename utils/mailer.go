package utils

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer is the delivery collaborator. Actual transport (Gmail API, SMTP
// relay) lives outside this service.
type Mailer interface {
	Send(email Email) (string, error)
}

// LogMailer is the development mailer: it logs the send and fabricates a
// message id.
type LogMailer struct {
	Logger *logrus.Entry
}

func NewLogMailer(logger *logrus.Entry) *LogMailer {
	return &LogMailer{Logger: logger}
}

func (m *LogMailer) Send(email Email) (string, error) {
	messageID := uuid.New().String()
	m.Logger.WithFields(logrus.Fields{
		"to":         email.To,
		"subject":    email.Subject,
		"message_id": messageID,
	}).Info("Email send (log mailer)")
	return messageID, nil
}
