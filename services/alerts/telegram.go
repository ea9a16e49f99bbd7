package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"psychology/utils"
)

// Sink delivers an alert text somewhere a human will see it.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// TelegramSink posts alerts to a chat through the Bot API.
type TelegramSink struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
	caller *utils.RetryingCaller
}

func NewTelegramSink(apiURL, token, chatID string, client *http.Client, caller *utils.RetryingCaller) *TelegramSink {
	return &TelegramSink{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: client,
		caller: caller,
	}
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *TelegramSink) Send(ctx context.Context, text string) error {
	req := utils.JSONRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token),
		Body:   telegramMessage{ChatID: s.chatID, Text: text},
	}
	return s.caller.Do(ctx, func(ctx context.Context) error {
		return utils.DoJSON(ctx, s.client, req, nil)
	}, utils.IsRetryableHTTP)
}
