package notify

import (
	"context"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendBuildsWellFormedMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	m := NewMailer(Config{Host: "mail.local", Port: 1025, From: "admin@strata.local"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), []string{"owner@example.com"}, "Payment reminder", "Your apartment has an outstanding balance.")
	require.NoError(t, err)
	require.Equal(t, "mail.local:1025", gotAddr)
	require.Equal(t, "admin@strata.local", gotFrom)
	require.Equal(t, []string{"owner@example.com"}, gotTo)

	text := string(gotMsg)
	require.True(t, strings.Contains(text, "Subject: Payment reminder\r\n"))
	require.True(t, strings.Contains(text, "To: owner@example.com\r\n"))
	require.True(t, strings.HasSuffix(text, "outstanding balance.\r\n"))
}

func TestSendRequiresRecipients(t *testing.T) {
	m := NewMailer(Config{Host: "mail.local", Port: 1025, From: "admin@strata.local"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := m.Send(context.Background(), nil, "s", "b")
	require.Error(t, err)
}

func TestSendRequiresConfiguration(t *testing.T) {
	m := NewMailer(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := m.Send(context.Background(), []string{"a@b.c"}, "s", "b")
	require.Error(t, err)
}
