// Package telemetry records tool-server load outcomes. Sending never blocks
// and never fails the caller; events are persisted by a background writer.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
)

// McpServerInit describes one server load, successful or not.
type McpServerInit struct {
	ConversationID    string `json:"conversation_id"`
	ServerName        string `json:"server_name"`
	InitFailureReason string `json:"init_failure_reason,omitempty"`
	NumberOfTools     int    `json:"number_of_tools"`
	AllToolNames      string `json:"all_tool_names,omitempty"`
	LoadedToolNames   string `json:"loaded_tool_names,omitempty"`
	ToolsInServer     int    `json:"tools_in_server"`
}

// Event is a persisted telemetry row.
type Event struct {
	ID             string
	Kind           string
	ConversationID string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

const kindMcpServerInit = "mcp_server_init"

// Client buffers events and writes them to the events table.
type Client struct {
	db     *sql.DB
	ch     chan Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// New creates the events table and starts the writer. A nil db yields a
// client that drops everything.
func New(ctx context.Context, db *sql.DB) (*Client, error) {
	c := &Client{
		db:     db,
		ch:     make(chan Event, 128),
		closed: make(chan struct{}),
	}
	if db == nil {
		close(c.closed)
		return c, nil
	}
	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS telemetry_events (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		conversation_id TEXT,
		payload         TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	);`); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}

	c.wg.Add(1)
	go c.writeLoop(context.WithoutCancel(ctx))
	return c, nil
}

// SendMcpServerInit queues ev. It returns immediately; a full queue drops the event.
func (c *Client) SendMcpServerInit(ctx context.Context, ev McpServerInit) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "telemetry marshal failed"}, log.KV{K: "err", V: err.Error()})
		return
	}
	c.enqueue(ctx, Event{
		ID:             uuid.NewString(),
		Kind:           kindMcpServerInit,
		ConversationID: ev.ConversationID,
		Payload:        payload,
		CreatedAt:      time.Now(),
	})
}

func (c *Client) enqueue(ctx context.Context, ev Event) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.ch <- ev:
	default:
		log.Debug(ctx, log.KV{K: "msg", V: "telemetry queue full, dropping event"}, log.KV{K: "kind", V: ev.Kind})
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.ch:
			c.write(ctx, ev)
		case <-c.closed:
			// Flush what is already queued
			for {
				select {
				case ev := <-c.ch:
					c.write(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(ctx context.Context, ev Event) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (id, kind, conversation_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Kind, ev.ConversationID, string(ev.Payload), ev.CreatedAt.UnixMilli())
	if err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "telemetry write failed"}, log.KV{K: "err", V: err.Error()})
	}
}

// Close flushes queued events and stops the writer.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.db != nil {
			close(c.closed)
		}
	})
	c.wg.Wait()
}

// Recent returns the latest events of a conversation, newest first.
func (c *Client) Recent(ctx context.Context, conversationID string, limit int) ([]Event, error) {
	if c.db == nil {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, kind, conversation_id, payload, created_at FROM telemetry_events
		WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			payload string
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.ConversationID, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = time.UnixMilli(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}
