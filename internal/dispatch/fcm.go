package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FCMNotifier posts one message per token to the FCM HTTP v1 send
// endpoint using a bearer token.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

func (f *FCMNotifier) Multicast(ctx context.Context, msg Message) (BatchResponse, error) {
	var resp BatchResponse
	for _, token := range msg.Tokens {
		err := f.send(ctx, fcmMessage{
			Token:        token,
			Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
		})
		if err != nil {
			resp.FailureCount++
		} else {
			resp.SuccessCount++
		}
		resp.Responses = append(resp.Responses, SendResponse{Token: token, Error: err})
	}
	if len(msg.Tokens) > 0 && resp.SuccessCount == 0 {
		return resp, errors.New("fcm: all sends failed")
	}
	return resp, nil
}

func (f *FCMNotifier) send(ctx context.Context, m fcmMessage) error {
	b, err := json.Marshal(map[string]fcmMessage{"message": m})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	res, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("fcm: status %d: %s", res.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
