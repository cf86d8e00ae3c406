package bridge

import (
	"encoding/json"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestNormalizeReplyToBot(t *testing.T) {
	topicCreated := json.RawMessage(`{"name":"build","icon_color":1}`)

	tests := []struct {
		name string
		msg  RawMessage
		want *bool
	}{
		{
			name: "no reply",
			msg:  RawMessage{MessageID: 1, Chat: RawChat{ID: 1, Type: "supergroup"}},
			want: nil,
		},
		{
			name: "reply to a real bot message",
			msg: RawMessage{
				MessageID:      2,
				Chat:           RawChat{ID: 1, Type: "supergroup"},
				ReplyToMessage: &RawReply{MessageID: 1, From: &RawUser{IsBot: true}, Text: "done"},
			},
			want: boolPtr(true),
		},
		{
			name: "reply to a human",
			msg: RawMessage{
				MessageID:      3,
				Chat:           RawChat{ID: 1, Type: "supergroup"},
				ReplyToMessage: &RawReply{MessageID: 1, From: &RawUser{IsBot: false}},
			},
			want: boolPtr(false),
		},
		{
			// Telegram attributes the topic's service message to the bot
			// that created the topic; every message in the topic replies to
			// it. That must not read as "replying to the bot".
			name: "reply to forum topic creation",
			msg: RawMessage{
				MessageID:       4,
				Chat:            RawChat{ID: 1, Type: "supergroup", IsForum: true},
				MessageThreadID: 7,
				ReplyToMessage:  &RawReply{MessageID: 7, From: &RawUser{IsBot: true}, ForumTopicCreated: &topicCreated},
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		in, ok := normalize(Update{UpdateID: 1, Message: &tt.msg}, "takopibot")
		if !ok {
			t.Fatalf("%s: message dropped", tt.name)
		}
		switch {
		case tt.want == nil && in.ReplyToIsBot != nil:
			t.Errorf("%s: ReplyToIsBot = %v, want nil", tt.name, *in.ReplyToIsBot)
		case tt.want != nil && in.ReplyToIsBot == nil:
			t.Errorf("%s: ReplyToIsBot = nil, want %v", tt.name, *tt.want)
		case tt.want != nil && *in.ReplyToIsBot != *tt.want:
			t.Errorf("%s: ReplyToIsBot = %v, want %v", tt.name, *in.ReplyToIsBot, *tt.want)
		}
	}
}

func TestNormalizeMention(t *testing.T) {
	msg := RawMessage{
		MessageID: 1,
		Chat:      RawChat{ID: 1, Type: "supergroup"},
		Text:      "@takopibot run the tests",
		Entities:  []RawEntity{{Type: "mention", Offset: 0, Length: 10}},
	}
	in, _ := normalize(Update{Message: &msg}, "takopibot")
	if !in.Mentioned {
		t.Error("mention not detected")
	}

	other := msg
	other.Text = "@otherbot run the tests"
	other.Entities = []RawEntity{{Type: "mention", Offset: 0, Length: 9}}
	in, _ = normalize(Update{Message: &other}, "takopibot")
	if in.Mentioned {
		t.Error("foreign mention attributed to us")
	}
}

func TestNormalizeMedia(t *testing.T) {
	msg := RawMessage{
		MessageID: 1,
		Chat:      RawChat{ID: 1, Type: "private"},
		Caption:   "what does this say",
		Voice:     &RawVoice{FileID: "v1", Duration: 4},
		Photo: []RawPhoto{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "big", Width: 800, Height: 600},
			{FileID: "mid", Width: 320, Height: 240},
		},
	}
	in, _ := normalize(Update{Message: &msg}, "")
	if in.Text != "what does this say" {
		t.Errorf("caption not promoted to text: %q", in.Text)
	}
	var photo, voice *Attachment
	for i := range in.Attachments {
		switch in.Attachments[i].Kind {
		case "photo":
			photo = &in.Attachments[i]
		case "voice":
			voice = &in.Attachments[i]
		}
	}
	if voice == nil || voice.FileID != "v1" {
		t.Errorf("voice attachment = %+v", voice)
	}
	if photo == nil || photo.FileID != "big" {
		t.Errorf("photo attachment = %+v, want largest size", photo)
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("@takopibot deploy please", "takopibot"); got != "deploy please" {
		t.Errorf("got %q", got)
	}
	if got := stripMention("deploy @takopibot", "takopibot"); got != "deploy" {
		t.Errorf("got %q", got)
	}
	if got := stripMention("plain text", "takopibot"); got != "plain text" {
		t.Errorf("got %q", got)
	}
}
