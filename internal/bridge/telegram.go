package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/takopi/takopi/internal/outbox"
)

// Update is the slice of the Bot API update object the bridge consumes.
// Decoded from raw getUpdates JSON because forum-topic fields (is_forum,
// message_thread_id, forum_topic_created) postdate the typed client.
type Update struct {
	UpdateID int         `json:"update_id"`
	Message  *RawMessage `json:"message"`
}

type RawMessage struct {
	MessageID       int         `json:"message_id"`
	From            *RawUser    `json:"from"`
	Chat            RawChat     `json:"chat"`
	Date            int64       `json:"date"`
	MessageThreadID int         `json:"message_thread_id"`
	MediaGroupID    string      `json:"media_group_id"`
	Text            string      `json:"text"`
	Caption         string      `json:"caption"`
	Entities        []RawEntity `json:"entities"`
	ReplyToMessage  *RawReply   `json:"reply_to_message"`
	Voice           *RawVoice   `json:"voice"`
	Document        *RawFile    `json:"document"`
	Photo           []RawPhoto  `json:"photo"`
	Video           *RawFile    `json:"video"`
	Sticker         *RawFile    `json:"sticker"`
}

type RawUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type RawChat struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	IsForum bool   `json:"is_forum"`
}

type RawEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type RawReply struct {
	MessageID         int              `json:"message_id"`
	From              *RawUser         `json:"from"`
	Text              string           `json:"text"`
	ForumTopicCreated *json.RawMessage `json:"forum_topic_created"`
}

type RawVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

type RawFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type RawPhoto struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// BotCommand is one slash command registered with the transport.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// Transport is the outbound surface the runtime needs. The Telegram client
// implements it; tests use a recording fake.
type Transport interface {
	BotUsername() string
	GetUpdates(ctx context.Context, offset, timeoutS int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, threadID int, html string, replyTo int) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, html string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SetMyCommands(ctx context.Context, commands []BotCommand) error
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Telegram is the Bot API client. Typed tgbotapi calls are used where the
// client supports them; updates go through MakeRequest for the forum
// fields.
type Telegram struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
}

// DialTelegram authenticates the token via getMe.
func DialTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	return &Telegram{bot: bot, http: &http.Client{Timeout: 2 * time.Minute}}, nil
}

func (t *Telegram) BotUsername() string {
	return t.bot.Self.UserName
}

// wireErr converts the client's rate-limit error into the outbox's
// retry-after signal.
func wireErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return &outbox.RetryAfterError{After: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	return err
}

func (t *Telegram) GetUpdates(ctx context.Context, offset, timeoutS int) ([]Update, error) {
	params := tgbotapi.Params{
		"timeout":         strconv.Itoa(timeoutS),
		"allowed_updates": `["message"]`,
	}
	params.AddNonZero("offset", offset)

	resp, err := t.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, wireErr(err)
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, threadID int, html string, replyTo int) (int, error) {
	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"text":       html,
		"parse_mode": "HTML",
	}
	params.AddNonZero("message_thread_id", threadID)
	params.AddNonZero("reply_to_message_id", replyTo)

	resp, err := t.bot.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, wireErr(err)
	}
	var sent struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("decode sent message: %w", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) EditMessageText(ctx context.Context, chatID int64, messageID int, html string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, html)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := t.bot.Request(edit)
	return wireErr(err)
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return wireErr(err)
}

func (t *Telegram) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	cmds := make([]tgbotapi.BotCommand, len(commands))
	for i, c := range commands {
		cmds[i] = tgbotapi.BotCommand{Command: c.Command, Description: c.Description}
	}
	_, err := t.bot.Request(tgbotapi.NewSetMyCommands(cmds...))
	return wireErr(err)
}

func (t *Telegram) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, wireErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", file.Link(t.bot.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
