package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

var expoPushURL = "https://exp.host/--/api/v2/push/send"

type expoPushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
}

// SendNotification delivers a single push message to an Expo push token.
func SendNotification(token string, title string, body string, data map[string]string) error {
	message := expoPushMessage{
		To:    token,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
	}

	payload, marshalErr := json.Marshal(message)
	if marshalErr != nil {
		return marshalErr
	}

	res, postErr := http.Post(expoPushURL, "application/json", bytes.NewBuffer(payload))
	if postErr != nil {
		return postErr
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("expo push returned status %d", res.StatusCode)
	}
	return nil
}
