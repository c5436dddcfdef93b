package authcore

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestParseResumeReply_Valid(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("123456"))
	id, got, err := ParseResumeReply("X-Login-Reply abc123 " + payload)
	if err != nil {
		t.Fatalf("ParseResumeReply: %v", err)
	}
	if id != "abc123" {
		t.Errorf("id = %q, want %q", id, "abc123")
	}
	if string(got) != "123456" {
		t.Errorf("payload = %q, want %q", got, "123456")
	}
}

func TestParseResumeReply_CaseInsensitiveTag(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	_, _, err := ParseResumeReply("x-login-reply abc " + payload)
	if err != nil {
		t.Fatalf("expected case-insensitive tag match, got %v", err)
	}
}

func TestParseResumeReply_WrongShape(t *testing.T) {
	tests := []string{
		"X-Login-Reply abc123",                     // missing payload
		"X-Login-Reply abc123 payload extra",        // too many fields
		"Basic abc123 cGF5bG9hZA==",                 // wrong tag
		"",
	}
	for _, raw := range tests {
		_, _, err := ParseResumeReply(raw)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("ParseResumeReply(%q) err = %v, want ErrAuthenticationFailed", raw, err)
		}
	}
}

func TestParseResumeReply_BadBase64(t *testing.T) {
	_, _, err := ParseResumeReply("X-Login-Reply abc123 not-base64!!!")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed for bad base64, got %v", err)
	}
}

func TestPendingTable_AddRemove(t *testing.T) {
	table := NewPendingTable()
	d := NewPendingDialogue("dlg-1")

	if table.Len() != 0 {
		t.Fatalf("expected empty table, got len %d", table.Len())
	}

	table.Add(d, d.Resume, func(error) (*LoginResult, *PromptResponse, error) { return nil, nil, nil })
	if table.Len() != 1 {
		t.Fatalf("expected len 1 after Add, got %d", table.Len())
	}

	entry := table.Remove("dlg-1")
	if entry == nil {
		t.Fatal("expected entry for dlg-1")
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table after Remove, got len %d", table.Len())
	}

	if table.Remove("dlg-1") != nil {
		t.Fatal("second Remove of the same id should return nil")
	}
}

func TestPendingTable_RemoveUnknownID(t *testing.T) {
	table := NewPendingTable()
	if table.Remove("nope") != nil {
		t.Fatal("Remove of an unknown id should return nil")
	}
}
