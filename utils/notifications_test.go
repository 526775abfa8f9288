package utils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendNotificationPostsExpoMessage(t *testing.T) {
	var got expoPushMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad push payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	oldURL := expoPushURL
	expoPushURL = server.URL
	defer func() { expoPushURL = oldURL }()

	err := SendNotification("ExponentPushToken[abc]", "Session Ended", "'space jam' has ended", map[string]string{
		"type": "session_ended",
		"id":   "7",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got.To != "ExponentPushToken[abc]" || got.Title != "Session Ended" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.Data["type"] != "session_ended" || got.Data["id"] != "7" {
		t.Fatalf("data payload not carried: %+v", got.Data)
	}
	if got.Sound != "default" {
		t.Fatalf("expected default sound, got %q", got.Sound)
	}
}

func TestSendNotificationSurfacesPushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	oldURL := expoPushURL
	expoPushURL = server.URL
	defer func() { expoPushURL = oldURL }()

	if err := SendNotification("ExponentPushToken[abc]", "t", "b", nil); err == nil {
		t.Fatal("expected error on non-200 push response")
	}
}
