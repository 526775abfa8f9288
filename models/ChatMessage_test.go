package models

import (
	"testing"
	"time"
)

func TestCanEditWithinWindow(t *testing.T) {
	now := time.Now()
	msg := &ChatMessage{SenderID: 1, CreatedAt: now.Add(-5 * time.Minute)}

	if !msg.CanEdit(1, now) {
		t.Fatal("author should edit inside the window")
	}
	if msg.CanEdit(2, now) {
		t.Fatal("non-author must never edit")
	}
}

func TestCanEditWindowExpires(t *testing.T) {
	now := time.Now()
	msg := &ChatMessage{SenderID: 1, CreatedAt: now.Add(-ChatEditWindow - time.Second)}

	if msg.CanEdit(1, now) {
		t.Fatal("edit window should be closed")
	}

	boundary := &ChatMessage{SenderID: 1, CreatedAt: now.Add(-ChatEditWindow)}
	if !boundary.CanEdit(1, now) {
		t.Fatal("edit exactly at the window boundary should be allowed")
	}
}
