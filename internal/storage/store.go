package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	logx "feedrelay/pkg/logx"
)

const maxErrorLen = 1000

var entryColumns = []string{
	"id", "feed_id", "title", "link", "categories", "published_at",
	"post_id", "status", "attempts", "last_error", "created_at", "updated_at",
}

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
	driver string
	log    logx.Logger

	// now is swapped in tests.
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) Driver() string { return s.driver }

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *SQLStore) EnsureFeedState(ctx context.Context, feedID string) (FeedState, error) {
	if s == nil || s.db == nil {
		return FeedState{}, ErrDisabled
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("feed_state").Cols("feed_id", "last_fetch", "next_fetch", "updated_at").
		Values(feedID, 0, 0, s.clock().UnixMilli())
	ib.SQL("ON CONFLICT(feed_id) DO NOTHING")
	q, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return FeedState{}, fmt.Errorf("ensure feed state %s: %w", feedID, err)
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select("feed_id", "last_fetch", "next_fetch", "last_entry_id", "updated_at").
		From("feed_state").Where(sb.Equal("feed_id", feedID))
	q, args = sb.Build()
	st, err := scanFeedState(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return FeedState{}, fmt.Errorf("read feed state %s: %w", feedID, err)
	}
	return st, nil
}

func (s *SQLStore) PutFeedState(ctx context.Context, st FeedState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.NextFetch.Before(st.LastFetch) {
		st.NextFetch = st.LastFetch
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("feed_state").Cols("feed_id", "last_fetch", "next_fetch", "last_entry_id", "updated_at").
		Values(st.FeedID, millis(st.LastFetch), millis(st.NextFetch), nullID(st.LastEntryID), s.clock().UnixMilli())
	ib.SQL(`ON CONFLICT(feed_id) DO UPDATE SET
		last_fetch = excluded.last_fetch,
		next_fetch = excluded.next_fetch,
		last_entry_id = COALESCE(excluded.last_entry_id, feed_state.last_entry_id),
		updated_at = excluded.updated_at`)
	q, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("put feed state %s: %w", st.FeedID, err)
	}
	return nil
}

func (s *SQLStore) ListFeedStates(ctx context.Context) ([]FeedState, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select("feed_id", "last_fetch", "next_fetch", "last_entry_id", "updated_at").
		From("feed_state").OrderBy("feed_id")
	q, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FeedState
	for rows.Next() {
		st, err := scanFeedState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertEntry(ctx context.Context, e *Entry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if e == nil {
		return 0, errors.New("nil entry")
	}
	now := s.clock()
	if e.Status == "" {
		e.Status = StatusQueued
	}
	cats, err := json.Marshal(nonNil(e.Categories))
	if err != nil {
		return 0, err
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("entries").
		Cols("feed_id", "title", "link", "categories", "published_at", "post_id", "status", "attempts", "created_at", "updated_at").
		Values(e.FeedID, e.Title, e.Link, string(cats), millis(e.PublishedAt), nullStr(e.PostID), string(e.Status), e.Attempts, now.UnixMilli(), now.UnixMilli())
	ib.SQL("RETURNING id")
	q, args := ib.Build()

	var id int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert entry for %s: %w", e.FeedID, err)
	}
	e.ID = id
	e.CreatedAt, e.UpdatedAt = truncMillis(now), truncMillis(now)
	return id, nil
}

func (s *SQLStore) GetEntry(ctx context.Context, id int64) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select(entryColumns...).From("entries").Where(sb.Equal("id", id))
	q, args := sb.Build()
	return s.queryEntry(ctx, q, args)
}

// LatestEntry returns the newest record for feedID by publication time.
func (s *SQLStore) LatestEntry(ctx context.Context, feedID string) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select(entryColumns...).From("entries").
		Where(sb.Equal("feed_id", feedID)).
		OrderBy("published_at DESC", "id DESC").
		Limit(1)
	q, args := sb.Build()
	return s.queryEntry(ctx, q, args)
}

func (s *SQLStore) MarkPosted(ctx context.Context, id int64, postID string, status Status) error {
	if status == "" {
		status = StatusPosted
	}
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("entries").
		Set(
			ub.Assign("post_id", nullStr(postID)),
			ub.Assign("status", string(status)),
			ub.Assign("last_error", nil),
			ub.Incr("attempts"),
			ub.Assign("updated_at", s.clock().UnixMilli()),
		).
		Where(ub.Equal("id", id))
	return s.execOne(ctx, ub, id)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("entries").
		Set(
			ub.Assign("status", string(StatusFailed)),
			ub.Assign("last_error", msg),
			ub.Incr("attempts"),
			ub.Assign("updated_at", s.clock().UnixMilli()),
		).
		Where(ub.Equal("id", id))
	return s.execOne(ctx, ub, id)
}

func (s *SQLStore) MarkQueued(ctx context.Context, id int64) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("entries").
		Set(
			ub.Assign("status", string(StatusQueued)),
			ub.Assign("updated_at", s.clock().UnixMilli()),
		).
		Where(ub.Equal("id", id))
	return s.execOne(ctx, ub, id)
}

// ListFailed returns failed entries with fewer than maxAttempts attempts,
// oldest first.
func (s *SQLStore) ListFailed(ctx context.Context, maxAttempts, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select(entryColumns...).From("entries").Where(sb.Equal("status", string(StatusFailed)))
	if maxAttempts > 0 {
		sb.Where(sb.LessThan("attempts", maxAttempts))
	}
	return s.listEntries(ctx, sb, limit)
}

// ListQueued returns entries left queued by an earlier process, i.e. created
// before createdBefore, oldest first.
func (s *SQLStore) ListQueued(ctx context.Context, createdBefore time.Time, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select(entryColumns...).From("entries").Where(
		sb.Equal("status", string(StatusQueued)),
		sb.LessThan("created_at", millis(createdBefore)),
	)
	return s.listEntries(ctx, sb, limit)
}

func (s *SQLStore) listEntries(ctx context.Context, sb *sqlbuilder.SelectBuilder, limit int) ([]Entry, error) {
	sb.OrderBy("published_at", "id")
	if limit > 0 {
		sb.Limit(limit)
	}
	q, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountUnposted counts entries still waiting for a post id.
func (s *SQLStore) CountUnposted(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From("entries").
		Where(sb.In("status", string(StatusQueued), string(StatusFailed)))
	q, args := sb.Build()
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) execOne(ctx context.Context, ub *sqlbuilder.UpdateBuilder, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	q, args := ub.Build()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) queryEntry(ctx context.Context, q string, args []interface{}) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeedState(row scanner) (FeedState, error) {
	var (
		st                  FeedState
		last, next, updated int64
		lastEntry           sql.NullInt64
	)
	if err := row.Scan(&st.FeedID, &last, &next, &lastEntry, &updated); err != nil {
		return FeedState{}, err
	}
	st.LastFetch, st.NextFetch, st.UpdatedAt = fromMillis(last), fromMillis(next), fromMillis(updated)
	st.LastEntryID = lastEntry.Int64
	return st, nil
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                           Entry
		cats, status                string
		published, created, updated int64
		postID, lastErr             sql.NullString
	)
	err := row.Scan(&e.ID, &e.FeedID, &e.Title, &e.Link, &cats, &published,
		&postID, &status, &e.Attempts, &lastErr, &created, &updated)
	if err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(cats) != "" {
		if err := json.Unmarshal([]byte(cats), &e.Categories); err != nil {
			return Entry{}, fmt.Errorf("entry %d categories: %w", e.ID, err)
		}
	}
	e.PublishedAt, e.CreatedAt, e.UpdatedAt = fromMillis(published), fromMillis(created), fromMillis(updated)
	e.PostID, e.LastError = postID.String, lastErr.String
	e.Status = Status(status)
	return e, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func truncMillis(t time.Time) time.Time { return fromMillis(t.UnixMilli()) }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
