package dispatch

import (
	"context"
	"log/slog"
	"strings"
)

// Message is one push notification addressed to many devices.
type Message struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

type SendResponse struct {
	Token string
	Error error
}

type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResponse
}

// Notifier delivers push messages. Delivery is best-effort; callers only
// log the outcome.
type Notifier interface {
	Multicast(ctx context.Context, msg Message) (BatchResponse, error)
}

// LogNotifier writes notifications to the log instead of a push provider.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Multicast(ctx context.Context, msg Message) (BatchResponse, error) {
	n.Logger.Info("push notification",
		"title", msg.Title,
		"body", msg.Body,
		"tokens", strings.Join(msg.Tokens, ","),
		"data", msg.Data,
	)
	resp := BatchResponse{SuccessCount: len(msg.Tokens)}
	for _, t := range msg.Tokens {
		resp.Responses = append(resp.Responses, SendResponse{Token: t})
	}
	return resp, nil
}
