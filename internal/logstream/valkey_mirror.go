package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/nebari-dev/prodesk/internal/models"
)

// Mirror receives a copy of every transcript line outside the process.
type Mirror interface {
	Append(ctx context.Context, actionID uuid.UUID, entry models.LogEntry) error
	Complete(ctx context.Context, actionID uuid.UUID, status models.ActionStatus) error
}

// DefaultMirrorTTL is how long a finished transcript stays in Valkey.
const DefaultMirrorTTL = time.Hour

// ValkeyMirror appends transcript lines to a Valkey list and publishes them on
// a pub/sub channel of the same name, so other processes can replay or follow
// an action.
type ValkeyMirror struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkeyMirror creates a mirror on top of an existing client.
func NewValkeyMirror(client valkey.Client, ttl time.Duration) *ValkeyMirror {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &ValkeyMirror{client: client, ttl: ttl}
}

// DialValkey connects to a Valkey server.
func DialValkey(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the list key and channel name used for an action.
func Key(actionID uuid.UUID) string {
	return fmt.Sprintf("actions:%s", actionID)
}

// Append stores and publishes one line.
func (m *ValkeyMirror) Append(ctx context.Context, actionID uuid.UUID, entry models.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	key := Key(actionID)
	cmds := valkey.Commands{
		m.client.B().Rpush().Key(key).Element(string(payload)).Build(),
		m.client.B().Publish().Channel(key).Message(string(payload)).Build(),
	}
	for _, resp := range m.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to mirror log line: %w", err)
		}
	}
	return nil
}

// Complete publishes the final status and sets the TTL on the transcript.
func (m *ValkeyMirror) Complete(ctx context.Context, actionID uuid.UUID, status models.ActionStatus) error {
	key := Key(actionID)
	cmds := valkey.Commands{
		m.client.B().Publish().Channel(key).Message(fmt.Sprintf("[%s]", status)).Build(),
		m.client.B().Expire().Key(key).Seconds(int64(m.ttl / time.Second)).Build(),
	}
	for _, resp := range m.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to complete mirrored transcript: %w", err)
		}
	}
	return nil
}

// Transcript reads a mirrored transcript back, oldest line first.
func (m *ValkeyMirror) Transcript(ctx context.Context, actionID uuid.UUID) ([]models.LogEntry, error) {
	raw, err := m.client.Do(ctx, m.client.B().Lrange().Key(Key(actionID)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored transcript: %w", err)
	}
	entries := make([]models.LogEntry, 0, len(raw))
	for _, line := range raw {
		var e models.LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("failed to decode mirrored log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
