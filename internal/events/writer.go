package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit records inside the caller's transaction, so an event
// is visible exactly when the mutation it describes commits.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one audit entry. OldValue and NewValue hold the before and after
// rendering of the changed attribute, when there is one.
type Record struct {
	Type     string
	IssueID  string
	Actor    string
	OldValue string
	NewValue string
	Payload  EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := rec.Actor
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,issue_id,actor,old_value,new_value,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.Type, rec.IssueID, actor, nullable(rec.OldValue), nullable(rec.NewValue), string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
