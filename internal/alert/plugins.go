package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ErrChannelNotFound is returned when no channel matches a config.
var ErrChannelNotFound = errors.New("channel not found")

// Manifest describes a channel plugin loaded from channel.json.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
}

// pluginResponse is what a channel executable writes to stdout.
type pluginResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PluginChannel delivers alerts through an external executable. The message
// is written to the process stdin as JSON; the process answers with a JSON
// response on stdout. Execution is bounded by the caller's context.
type PluginChannel struct {
	Name       string
	Executable string
	Dir        string
}

// Send runs the channel executable with the message on stdin.
func (p *PluginChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal channel payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Executable)
	cmd.Dir = p.Dir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("channel %s timed out", p.Name)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return fmt.Errorf("channel %s failed: %w, stderr: %s", p.Name, err, s)
		}
		return fmt.Errorf("channel %s failed: %w", p.Name, err)
	}

	var resp pluginResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("channel %s: invalid response: %w", p.Name, err)
	}
	if !resp.Success {
		return fmt.Errorf("channel %s: %s", p.Name, resp.Error)
	}
	return nil
}

// ChannelRegistry discovers and serves delivery channels. Built-in channels
// can be registered directly; plugin channels are loaded from a directory of
// subdirectories each holding a channel.json manifest and an executable.
type ChannelRegistry struct {
	channelDir string
	channels   map[string]Channel
	mu         sync.RWMutex
}

// NewChannelRegistry creates a registry scanning the given directory.
func NewChannelRegistry(channelDir string) *ChannelRegistry {
	return &ChannelRegistry{
		channelDir: channelDir,
		channels:   make(map[string]Channel),
	}
}

// Register adds a built-in channel under the given name.
func (r *ChannelRegistry) Register(name string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[name] = ch
}

// Get returns the channel registered under name.
func (r *ChannelRegistry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return ch, nil
}

// Names returns the registered channel names.
func (r *ChannelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Discover scans the channel directory for channel.json manifests and
// registers a PluginChannel for each.
func (r *ChannelRegistry) Discover() error {
	info, err := os.Stat(r.channelDir)
	if os.IsNotExist(err) {
		return nil // no channel directory, nothing to discover
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(r.channelDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		channelPath := filepath.Join(r.channelDir, entry.Name())
		manifestPath := filepath.Join(channelPath, "channel.json")

		manifestData, err := os.ReadFile(manifestPath)
		if err != nil {
			continue // skip channels without a readable manifest
		}

		var manifest Manifest
		if err := json.Unmarshal(manifestData, &manifest); err != nil {
			continue // skip channels with invalid JSON
		}
		if manifest.Name == "" || manifest.Executable == "" {
			continue
		}

		r.channels[manifest.Name] = &PluginChannel{
			Name:       manifest.Name,
			Executable: filepath.Join(channelPath, manifest.Executable),
			Dir:        channelPath,
		}
	}

	return nil
}
