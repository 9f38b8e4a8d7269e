// Package telegram publishes posts to a Telegram channel through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"channel-relay/internal/feed"
	"channel-relay/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender implements feed.Sender on top of tgbotapi.
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender authenticates with token.
func NewSender(token string) (*Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return &Sender{api: api}, nil
}

func NewSenderWithAPI(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, target, text string) error {
	chat, err := chatFor(target)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(0, text)
	msg.BaseChat = chat
	_, err = s.api.Send(msg)
	return mapError(err)
}

// SendMedia sends a single file, or a media group when there is more than
// one. The caption goes on the first file.
func (s *Sender) SendMedia(ctx context.Context, target string, files []feed.MediaFile, caption string) error {
	if len(files) == 0 {
		return errors.New("no media to send")
	}
	chat, err := chatFor(target)
	if err != nil {
		return err
	}

	if len(files) == 1 {
		_, err := s.api.Send(single(chat, files[0], caption))
		return mapError(err)
	}

	group := tgbotapi.NewMediaGroup(chat.ChatID, album(files, caption))
	group.ChannelUsername = chat.ChannelUsername
	_, err = s.api.SendMediaGroup(group)
	return mapError(err)
}

func single(chat tgbotapi.BaseChat, f feed.MediaFile, caption string) tgbotapi.Chattable {
	file := tgbotapi.FilePath(f.Path)
	switch f.Kind {
	case models.MediaPhoto:
		cfg := tgbotapi.NewPhoto(0, file)
		cfg.BaseChat = chat
		cfg.Caption = caption
		return cfg
	case models.MediaVideo:
		cfg := tgbotapi.NewVideo(0, file)
		cfg.BaseChat = chat
		cfg.Caption = caption
		return cfg
	case models.MediaAudio:
		cfg := tgbotapi.NewAudio(0, file)
		cfg.BaseChat = chat
		cfg.Caption = caption
		return cfg
	default:
		cfg := tgbotapi.NewDocument(0, file)
		cfg.BaseChat = chat
		cfg.Caption = caption
		return cfg
	}
}

// album builds media group items. Telegram only accepts photos and videos
// together; any other mix is sent as documents.
func album(files []feed.MediaFile, caption string) []interface{} {
	visual := true
	for _, f := range files {
		if f.Kind != models.MediaPhoto && f.Kind != models.MediaVideo {
			visual = false
			break
		}
	}

	items := make([]interface{}, 0, len(files))
	for i, f := range files {
		file := tgbotapi.FilePath(f.Path)
		c := ""
		if i == 0 {
			c = caption
		}

		switch {
		case visual && f.Kind == models.MediaPhoto:
			m := tgbotapi.NewInputMediaPhoto(file)
			m.Caption = c
			items = append(items, m)
		case visual:
			m := tgbotapi.NewInputMediaVideo(file)
			m.Caption = c
			items = append(items, m)
		default:
			m := tgbotapi.NewInputMediaDocument(file)
			m.Caption = c
			items = append(items, m)
		}
	}
	return items
}

// chatFor accepts "@channelname" or a numeric chat id.
func chatFor(target string) (tgbotapi.BaseChat, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") {
		return tgbotapi.BaseChat{ChannelUsername: target}, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, fmt.Errorf("invalid telegram target %q", target)
	}
	return tgbotapi.BaseChat{ChatID: id}, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case 429:
		return &feed.RateLimitError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	case 401, 403:
		return fmt.Errorf("%w: %s", feed.ErrForbidden, apiErr.Message)
	default:
		return err
	}
}
