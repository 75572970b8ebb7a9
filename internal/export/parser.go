package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseFiles parses every export file and returns messages ordered by
// (thread, timestamp, id). Any malformed file fails the whole parse.
func ParseFiles(paths []string) ([]RawMessage, error) {
	var all []RawMessage
	for _, path := range paths {
		msgs, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}
	sortMessages(all)
	return all, nil
}

// ParseFile parses a single export file. Two formats are recognized:
// Telegram Desktop JSON exports (result.json) and JSON Lines with one
// {sender, timestamp, text, thread_id} record per line.
func ParseFile(path string) ([]RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") || strings.EqualFold(filepath.Ext(path), ".ndjson") {
		return parseLines(path, data)
	}
	return parseTelegram(path, data)
}

// telegramExport mirrors the structure of a Telegram Desktop full export.
type telegramExport struct {
	Chats struct {
		List []telegramChat `json:"list"`
	} `json:"chats"`
	// Single-chat exports put messages at the top level.
	ID       json.Number       `json:"id"`
	Name     string            `json:"name"`
	Messages []telegramMessage `json:"messages"`
}

type telegramChat struct {
	ID       json.Number       `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Messages []telegramMessage `json:"messages"`
}

type telegramMessage struct {
	ID           json.Number     `json:"id"`
	Type         string          `json:"type"`
	Date         string          `json:"date"`
	DateUnixtime string          `json:"date_unixtime"`
	From         string          `json:"from"`
	FromID       string          `json:"from_id"`
	Text         json.RawMessage `json:"text"`
	Photo        string          `json:"photo"`
	MediaType    string          `json:"media_type"`
	File         string          `json:"file"`
}

func parseTelegram(path string, data []byte) ([]RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var exp telegramExport
	if err := dec.Decode(&exp); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	chats := exp.Chats.List
	if len(chats) == 0 && len(exp.Messages) > 0 {
		chats = []telegramChat{{ID: exp.ID, Name: exp.Name, Messages: exp.Messages}}
	}
	if len(chats) == 0 {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("no chats found in export")}
	}

	var msgs []RawMessage
	for _, chat := range chats {
		threadID := chat.ID.String()
		if threadID == "" {
			threadID = chat.Name
		}
		for _, m := range chat.Messages {
			if m.Type != "" && m.Type != "message" {
				continue // service messages, calls, pins
			}

			ts, err := parseTelegramDate(m)
			if err != nil {
				return nil, &ParseError{Path: path, Err: fmt.Errorf("message %s: %w", m.ID.String(), err)}
			}

			text, err := flattenText(m.Text)
			if err != nil {
				return nil, &ParseError{Path: path, Err: fmt.Errorf("message %s: %w", m.ID.String(), err)}
			}

			sender := m.From
			if sender == "" {
				sender = m.FromID
			}

			msgs = append(msgs, RawMessage{
				ID:         m.ID.String(),
				Sender:     sender,
				Timestamp:  ts,
				Text:       text,
				ThreadID:   threadID,
				ThreadName: chat.Name,
				HasMedia:   m.Photo != "" || m.MediaType != "" || m.File != "",
			})
		}
	}

	return msgs, nil
}

func parseTelegramDate(m telegramMessage) (time.Time, error) {
	if m.DateUnixtime != "" {
		sec, err := strconv.ParseInt(m.DateUnixtime, 10, 64)
		if err == nil {
			return time.Unix(sec, 0).UTC(), nil
		}
	}
	if m.Date != "" {
		ts, err := time.Parse("2006-01-02T15:04:05", m.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad date %q: %w", m.Date, err)
		}
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("message has no date")
}

// flattenText handles Telegram's text field, which is either a plain string
// or an array of strings and entity objects ({type, text}).
func flattenText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("unrecognized text value: %w", err)
	}

	var b strings.Builder
	for _, part := range parts {
		var ps string
		if err := json.Unmarshal(part, &ps); err == nil {
			b.WriteString(ps)
			continue
		}
		var ent struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &ent); err != nil {
			return "", fmt.Errorf("unrecognized text entity: %w", err)
		}
		b.WriteString(ent.Text)
	}
	return b.String(), nil
}

// lineRecord is the JSON Lines export format: one record per message.
type lineRecord struct {
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	ThreadID  string `json:"thread_id"`
	ID        string `json:"id"`
}

func parseLines(path string, data []byte) ([]RawMessage, error) {
	var msgs []RawMessage

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec lineRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &ParseError{Path: path, Line: lineNo, Err: err}
		}
		if rec.Sender == "" {
			return nil, &ParseError{Path: path, Line: lineNo, Err: fmt.Errorf("missing sender")}
		}

		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return nil, &ParseError{Path: path, Line: lineNo, Err: fmt.Errorf("bad timestamp %q: %w", rec.Timestamp, err)}
		}

		id := rec.ID
		if id == "" {
			id = fmt.Sprintf("%s:%d", filepath.Base(path), lineNo)
		}

		msgs = append(msgs, RawMessage{
			ID:        id,
			Sender:    rec.Sender,
			Timestamp: ts.UTC(),
			Text:      rec.Text,
			ThreadID:  rec.ThreadID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return msgs, nil
}

// sortMessages orders messages by thread, then timestamp, then id, so a
// re-parse of the same export always yields the same sequence.
func sortMessages(msgs []RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ThreadID != msgs[j].ThreadID {
			return msgs[i].ThreadID < msgs[j].ThreadID
		}
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
