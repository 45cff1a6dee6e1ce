package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

const (
	// PostgreSQL error codes
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	channelPrefix = "storyguess_changes_"
)

// Storage is a Postgres-backed implementation of the storage interface.
// Changes are delivered with NOTIFY on a per-room channel, sent in the same
// transaction as the write so listeners only see committed state.
type Storage struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New runs migrations and opens a connection pool
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if err := Migrate(ctx, cfg.URL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

// NewWithPool creates a Postgres storage with an existing pool (for testing)
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Close closes the connection pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func channelName(roomID model.RoomID) string {
	return channelPrefix + string(roomID)
}

func notify(ctx context.Context, q querier, table model.Table, op model.ChangeOp, roomID model.RoomID, recordID string) error {
	payload, err := json.Marshal(model.Change{
		Table:    table,
		Op:       op,
		RoomID:   roomID,
		RecordID: recordID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "SELECT pg_notify($1, $2)", channelName(roomID), string(payload))
	return err
}

// inTx runs fn in a transaction, committing only if it returns nil
func (s *Storage) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// Room operations

const roomColumns = `id, code, name, phase, min_players, max_players, round,
	countdown_ends_at, active_story_id, guess_ends_at, guessers, created_at, updated_at`

func scanRoom(row pgx.Row) (*model.Room, error) {
	var (
		room      model.Room
		countdown *time.Time
		guessEnds *time.Time
		guessers  []string
	)
	err := row.Scan(&room.ID, &room.Code, &room.Name, &room.Phase, &room.MinPlayers, &room.MaxPlayers,
		&room.Round, &countdown, &room.ActiveStoryID, &guessEnds, &guessers, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}
	room.CountdownEndsAt = fromNullTime(countdown)
	room.GuessEndsAt = fromNullTime(guessEnds)
	for _, g := range guessers {
		room.Guessers = append(room.Guessers, model.PlayerID(g))
	}
	return &room, nil
}

func guesserStrings(ids []model.PlayerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO rooms (`+roomColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			room.ID, room.Code, room.Name, room.Phase, room.MinPlayers, room.MaxPlayers, room.Round,
			nullTime(room.CountdownEndsAt), room.ActiveStoryID, nullTime(room.GuessEndsAt),
			guesserStrings(room.Guessers), room.CreatedAt, room.UpdatedAt)
		if err != nil {
			if isPgError(err, uniqueViolation) {
				return model.ErrRoomCodeTaken
			}
			return err
		}
		return notify(ctx, tx, model.TableRooms, model.OpInsert, room.ID, string(room.ID))
	})
}

func (s *Storage) RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM rooms WHERE code = $1)", code).Scan(&exists)
	return exists, err
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id))
}

func (s *Storage) GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE code = $1", code))
}

func (s *Storage) UpdateRoom(ctx context.Context, room *model.Room) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rooms SET name = $2, phase = $3, min_players = $4, max_players = $5,
			round = $6, countdown_ends_at = $7, active_story_id = $8, guess_ends_at = $9, guessers = $10,
			updated_at = $11 WHERE id = $1`,
			room.ID, room.Name, room.Phase, room.MinPlayers, room.MaxPlayers, room.Round,
			nullTime(room.CountdownEndsAt), room.ActiveStoryID, nullTime(room.GuessEndsAt),
			guesserStrings(room.Guessers), room.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.ErrRoomNotFound
		}
		return notify(ctx, tx, model.TableRooms, model.OpUpdate, room.ID, string(room.ID))
	})
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM rooms WHERE id = $1", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, model.TableRooms, model.OpDelete, id, string(id))
	})
}

func (s *Storage) ListRoomIDs(ctx context.Context) ([]model.RoomID, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM rooms ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[model.RoomID])
}

// Player operations

const playerColumns = "id, room_id, local_id, name, avatar, is_host, is_ready, score, seq, joined_at"

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(&p.ID, &p.RoomID, &p.LocalID, &p.Name, &p.Avatar, &p.IsHost, &p.IsReady, &p.Score, &p.Seq, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Storage) UpsertPlayer(ctx context.Context, player *model.Player) (*model.Player, bool, error) {
	var (
		stored  *model.Player
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPlayer(tx.QueryRow(ctx, `INSERT INTO players (id, room_id, local_id, name, avatar, is_host, is_ready, score, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (room_id, local_id) DO NOTHING
			RETURNING `+playerColumns,
			player.ID, player.RoomID, player.LocalID, player.Name, player.Avatar,
			player.IsHost, player.IsReady, player.Score, player.JoinedAt))
		switch {
		case err == nil:
			stored, created = p, true
			return notify(ctx, tx, model.TablePlayers, model.OpInsert, player.RoomID, string(player.ID))
		case errors.Is(err, model.ErrPlayerNotFound):
			// Conflict: the local id already joined
			stored, err = scanPlayer(tx.QueryRow(ctx,
				"SELECT "+playerColumns+" FROM players WHERE room_id = $1 AND local_id = $2",
				player.RoomID, player.LocalID))
			return err
		case isPgError(err, foreignKeyViolation):
			return model.ErrRoomNotFound
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *Storage) GetPlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) (*model.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx,
		"SELECT "+playerColumns+" FROM players WHERE room_id = $1 AND local_id = $2", roomID, localID))
}

func (s *Storage) ListPlayers(ctx context.Context, roomID model.RoomID) ([]*model.Player, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+playerColumns+" FROM players WHERE room_id = $1 ORDER BY seq", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []*model.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Storage) SetPlayerReady(ctx context.Context, roomID model.RoomID, localID model.LocalID, ready bool) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var id model.PlayerID
		err := tx.QueryRow(ctx, "UPDATE players SET is_ready = $3 WHERE room_id = $1 AND local_id = $2 RETURNING id",
			roomID, localID, ready).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrPlayerNotFound
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, model.TablePlayers, model.OpUpdate, roomID, string(id))
	})
}

func (s *Storage) UpdatePlayer(ctx context.Context, player *model.Player) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE players SET name = $3, avatar = $4, is_host = $5, is_ready = $6, score = $7
			WHERE room_id = $1 AND local_id = $2`,
			player.RoomID, player.LocalID, player.Name, player.Avatar, player.IsHost, player.IsReady, player.Score)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.ErrPlayerNotFound
		}
		return notify(ctx, tx, model.TablePlayers, model.OpUpdate, player.RoomID, string(player.ID))
	})
}

func (s *Storage) DeletePlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var id model.PlayerID
		err := tx.QueryRow(ctx, "DELETE FROM players WHERE room_id = $1 AND local_id = $2 RETURNING id",
			roomID, localID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		return notify(ctx, tx, model.TablePlayers, model.OpDelete, roomID, string(id))
	})
}

// Story operations

const storyColumns = "id, room_id, author_id, content, genre, is_revealed, seq, created_at, updated_at"

func scanStory(row pgx.Row) (*model.Story, error) {
	var st model.Story
	err := row.Scan(&st.ID, &st.RoomID, &st.AuthorID, &st.Content, &st.Genre, &st.IsRevealed, &st.Seq, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrStoryNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Storage) UpsertStory(ctx context.Context, story *model.Story) (*model.Story, error) {
	var stored *model.Story
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var inserted bool
		row := tx.QueryRow(ctx, `INSERT INTO stories (id, room_id, author_id, content, genre, is_revealed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
			ON CONFLICT (room_id, author_id) WHERE NOT is_revealed
			DO UPDATE SET content = EXCLUDED.content, genre = EXCLUDED.genre, updated_at = EXCLUDED.updated_at
			RETURNING `+storyColumns+`, (xmax = 0)`,
			story.ID, story.RoomID, story.AuthorID, story.Content, story.Genre, story.CreatedAt, story.UpdatedAt)

		var st model.Story
		err := row.Scan(&st.ID, &st.RoomID, &st.AuthorID, &st.Content, &st.Genre, &st.IsRevealed, &st.Seq,
			&st.CreatedAt, &st.UpdatedAt, &inserted)
		if err != nil {
			if isPgError(err, foreignKeyViolation) {
				return model.ErrRoomNotFound
			}
			return err
		}
		stored = &st

		op := model.OpUpdate
		if inserted {
			op = model.OpInsert
		}
		return notify(ctx, tx, model.TableStories, op, st.RoomID, string(st.ID))
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Storage) GetStory(ctx context.Context, id model.StoryID) (*model.Story, error) {
	return scanStory(s.pool.QueryRow(ctx, "SELECT "+storyColumns+" FROM stories WHERE id = $1", id))
}

func (s *Storage) ListStories(ctx context.Context, roomID model.RoomID) ([]*model.Story, error) {
	return s.queryStories(ctx, "SELECT "+storyColumns+" FROM stories WHERE room_id = $1 ORDER BY seq", roomID)
}

func (s *Storage) queryStories(ctx context.Context, sql string, args ...any) ([]*model.Story, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories := []*model.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

func (s *Storage) GetActiveStory(ctx context.Context, roomID model.RoomID) (*model.Story, error) {
	return scanStory(s.pool.QueryRow(ctx,
		"SELECT "+storyColumns+" FROM stories WHERE room_id = $1 AND NOT is_revealed ORDER BY seq LIMIT 1", roomID))
}

func (s *Storage) RevealStory(ctx context.Context, id model.StoryID, credits map[model.PlayerID]int) (bool, error) {
	revealed := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			roomID model.RoomID
			done   bool
		)
		err := tx.QueryRow(ctx, "SELECT room_id, is_revealed FROM stories WHERE id = $1 FOR UPDATE", id).Scan(&roomID, &done)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrStoryNotFound
		}
		if err != nil || done {
			return err
		}

		for playerID, points := range credits {
			if points == 0 {
				continue
			}
			tag, err := tx.Exec(ctx, "UPDATE players SET score = score + $3 WHERE room_id = $1 AND id = $2",
				roomID, playerID, points)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			if err := notify(ctx, tx, model.TablePlayers, model.OpUpdate, roomID, string(playerID)); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, "UPDATE stories SET is_revealed = TRUE WHERE id = $1", id); err != nil {
			return err
		}
		revealed = true
		return notify(ctx, tx, model.TableStories, model.OpUpdate, roomID, string(id))
	})
	if err != nil {
		return false, err
	}
	return revealed, nil
}

// Guess operations

func (s *Storage) CreateGuess(ctx context.Context, guess *model.Guess) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO guesses (id, room_id, story_id, player_id, guessed_author_id, is_correct, points, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			guess.ID, guess.RoomID, guess.StoryID, guess.PlayerID, guess.GuessedAuthorID,
			guess.IsCorrect, guess.Points, guess.CreatedAt)
		switch {
		case isPgError(err, uniqueViolation):
			return model.ErrAlreadyGuessed
		case isPgError(err, foreignKeyViolation):
			return model.ErrStoryNotFound
		case err != nil:
			return err
		}
		return notify(ctx, tx, model.TableGuesses, model.OpInsert, guess.RoomID, string(guess.ID))
	})
}

func (s *Storage) ListGuesses(ctx context.Context, storyID model.StoryID) ([]*model.Guess, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, room_id, story_id, player_id, guessed_author_id, is_correct, points, created_at
		FROM guesses WHERE story_id = $1 ORDER BY created_at, player_id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guesses := []*model.Guess{}
	for rows.Next() {
		var g model.Guess
		if err := rows.Scan(&g.ID, &g.RoomID, &g.StoryID, &g.PlayerID, &g.GuessedAuthorID, &g.IsCorrect, &g.Points, &g.CreatedAt); err != nil {
			return nil, err
		}
		guesses = append(guesses, &g)
	}
	return guesses, rows.Err()
}

// Reaction operations

func (s *Storage) AddReaction(ctx context.Context, reaction *model.Reaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO reactions (room_id, story_id, player_id, kind) VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			reaction.RoomID, reaction.StoryID, reaction.PlayerID, reaction.Kind)
		if err != nil {
			if isPgError(err, foreignKeyViolation) {
				return model.ErrStoryNotFound
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, model.TableReactions, model.OpInsert, reaction.RoomID, string(reaction.StoryID))
	})
}

func (s *Storage) RemoveReaction(ctx context.Context, reaction *model.Reaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM reactions WHERE story_id = $1 AND player_id = $2 AND kind = $3",
			reaction.StoryID, reaction.PlayerID, reaction.Kind)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, model.TableReactions, model.OpDelete, reaction.RoomID, string(reaction.StoryID))
	})
}

func (s *Storage) ListReactions(ctx context.Context, storyID model.StoryID) ([]*model.Reaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT room_id, story_id, player_id, kind FROM reactions
		WHERE story_id = $1 ORDER BY player_id, kind`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := []*model.Reaction{}
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.RoomID, &r.StoryID, &r.PlayerID, &r.Kind); err != nil {
			return nil, err
		}
		reactions = append(reactions, &r)
	}
	return reactions, rows.Err()
}

// Round operations

func (s *Storage) ClearRound(ctx context.Context, roomID model.RoomID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		// guesses and reactions cascade from stories
		tag, err := tx.Exec(ctx, "DELETE FROM stories WHERE room_id = $1", roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, model.TableStories, model.OpDelete, roomID, "")
	})
}

// Change feed

func (s *Storage) Subscribe(ctx context.Context, roomID model.RoomID) (storage.Subscription, error) {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	// The listening connection leaves the pool for good; it is closed with the subscription
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channelName(roomID)}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen on room %s: %w", roomID, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conn:   conn,
		ch:     make(chan model.Change, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(listenCtx)
	return sub, nil
}
