// Package main provides a desktop notification channel for macOS.
// It shows safety alerts as notification center banners via AppleScript.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
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

func main() {
	var msg Message
	if err := json.NewDecoder(os.Stdin).Decode(&msg); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode message: %v", err))
		return
	}

	title := msg.Subject
	if title == "" {
		title = "Safety alert"
	}
	body := msg.Body
	if msg.Violation != nil && body == "" {
		body = fmt.Sprintf("%s violation (%s)", msg.Violation.ItemType, msg.Violation.Severity)
	}

	if err := notify(title, body); err != nil {
		writeErrorResponse(fmt.Sprintf("notification failed: %v", err))
		return
	}

	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

// notify shows a notification center banner.
func notify(title, body string) error {
	script := fmt.Sprintf("display notification %q with title %q", escape(body), escape(title))
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

// escape neutralizes double quotes for AppleScript string literals.
func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func writeErrorResponse(message string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: message})
}
