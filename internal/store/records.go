package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	ErrRecordSave     = errors.New("failed to save player record")
	ErrRecordLoad     = errors.New("failed to load player records")
	ErrInvalidVerdict = errors.New("unknown verdict value")
)

// Verdict is the manually assigned trust classification for an identity.
type Verdict string

const (
	// VerdictPlayer is the default "no judgement yet" value.
	VerdictPlayer     Verdict = "Player"
	VerdictBot        Verdict = "Bot"
	VerdictSuspicious Verdict = "Suspicious"
	VerdictCheater    Verdict = "Cheater"
	VerdictTrusted    Verdict = "Trusted"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictPlayer, VerdictBot, VerdictSuspicious, VerdictCheater, VerdictTrusted:
		return true
	default:
		return false
	}
}

// Record is the durable judgement state of a single identity. It outlives game
// sessions, everything else known about a player does not.
type Record struct {
	SteamID       steamid.SteamID
	Verdict       Verdict
	Convicted     bool
	Tags          []string
	CustomData    map[string]any
	PreviousNames []string
	CreatedOn     time.Time
	UpdatedOn     time.Time
}

// NewRecord returns the default record for an identity that has never been judged.
func NewRecord(sid steamid.SteamID) Record {
	now := time.Now()

	return Record{
		SteamID:       sid,
		Verdict:       VerdictPlayer,
		Convicted:     false,
		Tags:          []string{},
		CustomData:    map[string]any{},
		PreviousNames: []string{},
		CreatedOn:     now,
		UpdatedOn:     now,
	}
}

func NewRecords(db *sql.DB) *Records {
	return &Records{db: db}
}

// Records provides access to the persisted player records. Each Save is a single
// row upsert inside the WAL, so a crash between two saves can never corrupt an
// unrelated identity's row.
type Records struct {
	db *sql.DB
}

// Load reads every persisted record. Called once at startup.
func (r *Records) Load(ctx context.Context) (map[steamid.SteamID]Record, error) {
	rows, errQuery := r.db.QueryContext(ctx, `
		SELECT steam_id, verdict, convicted, tags, custom_data, previous_names, created_on, updated_on
		FROM player_record`)
	if errQuery != nil {
		return nil, errors.Join(errQuery, ErrRecordLoad)
	}

	defer rows.Close()

	records := map[steamid.SteamID]Record{}
	for rows.Next() {
		var (
			record    Record
			sid64     int64
			tags      string
			custom    string
			prevNames string
			createdOn int64
			updatedOn int64
		)

		if errScan := rows.Scan(&sid64, &record.Verdict, &record.Convicted, &tags,
			&custom, &prevNames, &createdOn, &updatedOn); errScan != nil {
			return nil, errors.Join(errScan, ErrRecordLoad)
		}

		record.SteamID = steamid.New(sid64)
		if !record.SteamID.Valid() {
			continue
		}

		if err := json.Unmarshal([]byte(tags), &record.Tags); err != nil {
			record.Tags = []string{}
		}
		if err := json.Unmarshal([]byte(custom), &record.CustomData); err != nil || record.CustomData == nil {
			record.CustomData = map[string]any{}
		}
		if err := json.Unmarshal([]byte(prevNames), &record.PreviousNames); err != nil {
			record.PreviousNames = []string{}
		}

		record.CreatedOn = time.Unix(createdOn, 0)
		record.UpdatedOn = time.Unix(updatedOn, 0)

		records[record.SteamID] = record
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, errors.Join(errRows, ErrRecordLoad)
	}

	return records, nil
}

// Save upserts the judgement fields of a single identity.
func (r *Records) Save(ctx context.Context, record Record) error {
	if !record.Verdict.Valid() {
		return ErrInvalidVerdict
	}

	tags, errTags := json.Marshal(dedupTags(record.Tags))
	if errTags != nil {
		return errors.Join(errTags, ErrRecordSave)
	}

	if record.CustomData == nil {
		record.CustomData = map[string]any{}
	}
	custom, errCustom := json.Marshal(record.CustomData)
	if errCustom != nil {
		return errors.Join(errCustom, ErrRecordSave)
	}

	if record.PreviousNames == nil {
		record.PreviousNames = []string{}
	}
	prevNames, errNames := json.Marshal(record.PreviousNames)
	if errNames != nil {
		return errors.Join(errNames, ErrRecordSave)
	}

	now := time.Now()
	if record.CreatedOn.IsZero() {
		record.CreatedOn = now
	}

	// previous_names is deliberately absent from the update set, AddPreviousName
	// is its only writer and a judgement save must not erase accumulated history.
	_, errExec := r.db.ExecContext(ctx, `
		INSERT INTO player_record (steam_id, verdict, convicted, tags, custom_data, previous_names, created_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (steam_id) DO UPDATE SET
			verdict     = excluded.verdict,
			convicted   = excluded.convicted,
			tags        = excluded.tags,
			custom_data = excluded.custom_data,
			updated_on  = excluded.updated_on`,
		record.SteamID.Int64(), record.Verdict, record.Convicted, string(tags),
		string(custom), string(prevNames), record.CreatedOn.Unix(), now.Unix())
	if errExec != nil {
		return errors.Join(errExec, ErrRecordSave)
	}

	return nil
}

// Reset restores the default judgement for an identity without removing the row,
// previously seen names are kept.
func (r *Records) Reset(ctx context.Context, sid steamid.SteamID) error {
	_, errExec := r.db.ExecContext(ctx, `
		UPDATE player_record
		SET verdict = ?, convicted = 0, tags = '[]', custom_data = '{}', updated_on = ?
		WHERE steam_id = ?`,
		VerdictPlayer, time.Now().Unix(), sid.Int64())
	if errExec != nil {
		return errors.Join(errExec, ErrRecordSave)
	}

	return nil
}

// AddPreviousName appends a newly observed display name to an identity's history.
// Identities without a saved record are ignored, name history is only interesting
// for players someone bothered to judge. The append and dedup happen in a single
// statement so concurrent observations cannot drop one another.
func (r *Records) AddPreviousName(ctx context.Context, sid steamid.SteamID, name string) error {
	if _, errExec := r.db.ExecContext(ctx, `
		UPDATE player_record
		SET previous_names = json_insert(previous_names, '$[#]', ?), updated_on = ?
		WHERE steam_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM json_each(player_record.previous_names) WHERE value = ?)`,
		name, time.Now().Unix(), sid.Int64(), name); errExec != nil {
		return errors.Join(errExec, ErrRecordSave)
	}

	return nil
}

func dedupTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}

	deduped := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || slices.Contains(deduped, tag) {
			continue
		}

		deduped = append(deduped, tag)
	}

	return deduped
}
