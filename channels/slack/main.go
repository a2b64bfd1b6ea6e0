// Package main provides a Slack channel that posts safety alerts to an
// incoming webhook. The webhook URL is the alert config's destination.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Message is the alert payload written to stdin by the dispatcher.
type Message struct {
	ConfigName  string `json:"config_name"`
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Violation   *struct {
		ID        string `json:"id"`
		SessionID string `json:"session_id"`
		WorkerID  string `json:"worker_id"`
		ItemType  string `json:"item_type"`
		Severity  string `json:"severity"`
		StartedAt string `json:"started_at"`
	} `json:"violation"`
}

// Response is the result written back to the dispatcher.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// slackPayload is the incoming-webhook message format.
type slackPayload struct {
	Text string `json:"text"`
}

func main() {
	var msg Message
	if err := json.NewDecoder(os.Stdin).Decode(&msg); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode message: %v", err))
		return
	}

	if msg.Destination == "" {
		writeErrorResponse("destination webhook URL is required")
		return
	}

	text := msg.Subject
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	if v := msg.Violation; v != nil {
		text += fmt.Sprintf("\n> item: %s | severity: %s | session: %s", v.ItemType, v.Severity, v.SessionID)
		if v.WorkerID != "" {
			text += " | worker: " + v.WorkerID
		}
	}

	if err := post(msg.Destination, text); err != nil {
		writeErrorResponse(fmt.Sprintf("slack delivery failed: %v", err))
		return
	}

	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

func post(url, text string) error {
	payload, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func writeErrorResponse(message string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: message})
}
