package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "prefixed token",
			in:   "calling https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/getMe",
			want: "calling https://api.telegram.org/bot[REDACTED]/getMe",
		},
		{
			name: "bare token",
			in:   "bot_token = 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw",
			want: "bot_token = [REDACTED_TOKEN]",
		},
		{
			name: "short digit run untouched",
			in:   "ratio is 12345:678 today",
			want: "ratio is 12345:678 today",
		},
		{
			name: "short secret untouched",
			in:   "port map 123456789:shortsecret",
			want: "port map 123456789:shortsecret",
		},
		{
			name: "clean text",
			in:   "nothing secret here",
			want: "nothing secret here",
		},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("%s: Redact(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestRedactIdempotent(t *testing.T) {
	leaky := regexp.MustCompile(`\d{9,}:[A-Za-z0-9+/=_-]{20,}`)
	inputs := []string{
		"bot987654321:AAAAAAAAAAAAAAAAAAAAAAAA done",
		"two 111111111:BBBBBBBBBBBBBBBBBBBBBB and 222222222:CCCCCCCCCCCCCCCCCCCCCC",
	}
	for _, in := range inputs {
		once := Redact(in)
		if leaky.MatchString(once) {
			t.Errorf("Redact(%q) leaked: %q", in, once)
		}
		if twice := Redact(once); twice != once {
			t.Errorf("not idempotent: %q vs %q", once, twice)
		}
	}
}

func TestAppendTruncatesAndRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	err = log.Append(Record{
		Kind:   "prompt",
		ChatID: 1,
		Text:   strings.Repeat("a", 150),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = log.Append(Record{
		Kind: "error",
		Text: "401 at bot123456789:AAAAAAAAAAAAAAAAAAAAAAAA",
	})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if want := strings.Repeat("a", 100) + "…"; records[0].Text != want {
		t.Errorf("truncated text = %q, want %q", records[0].Text, want)
	}
	if records[0].TS.IsZero() {
		t.Error("timestamp not stamped")
	}
	if strings.Contains(records[1].Text, "AAAA") {
		t.Errorf("token leaked into audit log: %q", records[1].Text)
	}
}
