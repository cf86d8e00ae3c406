package bridge

import "strings"

// Attachment is a normalized media reference from an incoming message.
type Attachment struct {
	Kind     string // "voice", "document", "photo"
	FileID   string
	FileName string
	Duration int // seconds, voice only
}

// IncomingMessage is the transport-independent shape the runtime consumes.
type IncomingMessage struct {
	UpdateID  int
	ChatID    int64
	ChatType  string
	IsForum   bool
	ThreadID  int
	MessageID int
	FromID    int64
	Date      int64
	Text      string

	// MediaGroupID groups the messages of one album.
	MediaGroupID string

	// ReplyToIsBot is nil when the message is not a reply, or when the
	// reply target is a forum-topic-creation service message. Telegram
	// attributes those to the bot that created the topic, which would make
	// every message in the topic look like a reply to the bot.
	ReplyToIsBot *bool
	ReplyToText  string
	ReplyToID    int

	Attachments []Attachment

	// Mentioned is true when the message text mentions the bot's username.
	Mentioned bool
}

// normalize flattens a raw update into an IncomingMessage. Returns false for
// updates with no message payload.
func normalize(u Update, botUsername string) (IncomingMessage, bool) {
	m := u.Message
	if m == nil {
		return IncomingMessage{}, false
	}

	in := IncomingMessage{
		UpdateID:     u.UpdateID,
		ChatID:       m.Chat.ID,
		ChatType:     m.Chat.Type,
		IsForum:      m.Chat.IsForum,
		ThreadID:     m.MessageThreadID,
		MessageID:    m.MessageID,
		Date:         m.Date,
		MediaGroupID: m.MediaGroupID,
		Text:         m.Text,
	}
	if in.Text == "" {
		in.Text = m.Caption
	}
	if m.From != nil {
		in.FromID = m.From.ID
	}

	if r := m.ReplyToMessage; r != nil {
		in.ReplyToID = r.MessageID
		in.ReplyToText = r.Text
		// A reply to the topic's service message is how Telegram represents
		// "posted in this topic", not a reply to the bot.
		if r.From != nil && r.ForumTopicCreated == nil {
			isBot := r.From.IsBot
			in.ReplyToIsBot = &isBot
		}
	}

	if m.Voice != nil {
		in.Attachments = append(in.Attachments, Attachment{
			Kind:     "voice",
			FileID:   m.Voice.FileID,
			Duration: m.Voice.Duration,
		})
	}
	if m.Document != nil {
		in.Attachments = append(in.Attachments, Attachment{Kind: "document", FileID: m.Document.FileID, FileName: m.Document.FileName})
	}
	// Video and stickers travel as documents; photos take the largest size.
	if m.Video != nil {
		in.Attachments = append(in.Attachments, Attachment{Kind: "document", FileID: m.Video.FileID, FileName: m.Video.FileName})
	}
	if m.Sticker != nil {
		in.Attachments = append(in.Attachments, Attachment{Kind: "document", FileID: m.Sticker.FileID})
	}
	if len(m.Photo) > 0 {
		largest := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		in.Attachments = append(in.Attachments, Attachment{Kind: "photo", FileID: largest.FileID})
	}

	if botUsername != "" {
		for _, e := range m.Entities {
			if e.Type != "mention" {
				continue
			}
			mention := sliceUTF16(m.Text, e.Offset, e.Length)
			if strings.EqualFold(mention, "@"+botUsername) {
				in.Mentioned = true
				break
			}
		}
	}
	return in, true
}

// stripMention removes the bot's @username from the text.
func stripMention(text, botUsername string) string {
	if botUsername == "" {
		return text
	}
	out := text
	for _, form := range []string{"@" + botUsername + " ", " @" + botUsername, "@" + botUsername} {
		out = strings.ReplaceAll(out, form, "")
	}
	return strings.TrimSpace(out)
}

// sliceUTF16 extracts an entity substring. Telegram entity offsets count
// UTF-16 code units, not bytes or runes.
func sliceUTF16(s string, offset, length int) string {
	var b strings.Builder
	pos := 0
	for _, r := range s {
		units := 1
		if r > 0xFFFF {
			units = 2
		}
		if pos >= offset && pos < offset+length {
			b.WriteRune(r)
		}
		pos += units
		if pos >= offset+length {
			break
		}
	}
	return b.String()
}
