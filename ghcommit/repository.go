package ghcommit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjk/despacho/records"
	"github.com/tidwall/pretty"
)

// CommitMessage is the message of a commit appending a record at t
func CommitMessage(t time.Time) string {
	return "chore(descargas): append record on " + t.UTC().Format(time.RFC3339)
}

// Repository is a records.Repository backed by one JSON array file
type Repository struct {
	client *Client
	// Now can be replaced in tests
	Now func() time.Time
}

var _ records.Repository = &Repository{}

func NewRepository(client *Client) *Repository {
	return &Repository{
		client: client,
		Now:    time.Now,
	}
}

// decodeItems parses the file as an array. Empty file is an empty array.
// Items are kept as raw JSON so what others wrote is committed back as is.
func decodeItems(d []byte) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(d)) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(d, &items); err != nil {
		return nil, fmt.Errorf("ghcommit: file is not a JSON array: %w", err)
	}
	return items, nil
}

var prettyOptions = &pretty.Options{
	Width:  0,
	Prefix: "",
	Indent: "  ",
}

func encodeItems(items []json.RawMessage) ([]byte, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	d, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(d, prettyOptions), nil
}

// Append fetches the file, adds rec at the end and commits it back. If the
// file changed after the fetch GitHub rejects the commit and Append returns
// *records.UpstreamError with GitHub's status.
func (r *Repository) Append(ctx context.Context, rec *records.Record) error {
	d, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.AppendRaw(ctx, d)
}

// AppendRaw is Append for a record that is already JSON. It's committed as
// sent, modulo indentation.
func (r *Repository) AppendRaw(ctx context.Context, rec json.RawMessage) error {
	if !json.Valid(rec) {
		return &records.ValidationError{Msg: "record is not valid JSON"}
	}
	f, err := r.client.GetFile(ctx)
	if err != nil {
		return err
	}
	items, err := decodeItems(f.Content)
	if err != nil {
		return err
	}
	items = append(items, rec)
	content, err := encodeItems(items)
	if err != nil {
		return err
	}
	return r.client.PutFile(ctx, content, f.SHA, CommitMessage(r.Now()))
}

// List returns records from the file, newest first. Array elements that
// are not objects are skipped.
func (r *Repository) List(ctx context.Context, limit int) ([]*records.Record, error) {
	f, err := r.client.GetFile(ctx)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(f.Content)
	if err != nil {
		return nil, err
	}
	res := make([]*records.Record, 0, len(items))
	for _, item := range items {
		var rec records.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			continue
		}
		res = append(res, &rec)
	}
	records.SortNewestFirst(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
