package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/convctx"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/util"
)

// sqlStore implements the dialect-independent part of Store on database/sql.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db       *sql.DB
	numbered bool
	now      func() time.Time
	contexts *convctx.Manager
	log      *slog.Logger
}

func newSQLStore(db *sql.DB, numbered bool, backend string, clock func() time.Time) *sqlStore {
	return &sqlStore{
		db:       db,
		numbered: numbered,
		now:      clock,
		contexts: convctx.NewManager(convctx.WithClock(clock)),
		log:      slog.Default().With("backend", backend),
	}
}

// q rewrites ? placeholders to $1, $2, ... when the dialect needs it.
func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) stamp() time.Time {
	return s.now().UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const conversationColumns = `id, channel_address, subject_id, linked_shift_id, state, context, last_activity_at, expires_at, created_at, updated_at`

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var subjectID, linkedShiftID sql.NullString
	var contextJSON string
	err := row.Scan(&c.ID, &c.ChannelAddress, &subjectID, &linkedShiftID, &c.State, &contextJSON,
		&c.LastActivityAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.SubjectID = subjectID.String
	c.LinkedShiftID = linkedShiftID.String
	if err := json.Unmarshal([]byte(contextJSON), &c.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context of conversation %s: %w", c.ID, err)
	}
	c.LastActivityAt = c.LastActivityAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func encodeContext(c models.Context) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	return string(data), nil
}

func (s *sqlStore) GetOrCreateConversation(ctx context.Context, address, subjectID string) (*models.Conversation, error) {
	if address == "" {
		return nil, models.ErrEmptyRecipient
	}
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanConversation(tx.QueryRowContext(ctx,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE channel_address = ?`), address))
	switch {
	case err == nil && !existing.IsExpired(now):
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		s.log.Debug("Store.GetOrCreateConversation: found", "conversationID", existing.ID, "state", existing.State)
		return existing, nil
	case err == nil:
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = ?`), existing.ID); err != nil {
			return nil, fmt.Errorf("failed to delete expired conversation %s: %w", existing.ID, err)
		}
		s.log.Debug("Store.GetOrCreateConversation: replacing expired conversation", "conversationID", existing.ID)
	case !errors.Is(err, sql.ErrNoRows):
		s.log.Error("Store.GetOrCreateConversation: lookup failed", "error", err, "address", address)
		return nil, fmt.Errorf("failed to look up conversation for %s: %w", address, err)
	}

	conv := &models.Conversation{
		ID:             util.NewID("conv_"),
		ChannelAddress: address,
		SubjectID:      subjectID,
		State:          models.StateIdle,
		Context:        s.contexts.Create(nil),
		LastActivityAt: now,
		ExpiresAt:      now.Add(models.DefaultConversationTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	contextJSON, err := encodeContext(conv.Context)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.ChannelAddress, nullable(conv.SubjectID), nil, conv.State, contextJSON,
		conv.LastActivityAt, conv.ExpiresAt, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		s.log.Error("Store.GetOrCreateConversation: insert failed", "error", err, "address", address)
		return nil, fmt.Errorf("failed to create conversation for %s: %w", address, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	s.log.Debug("Store.GetOrCreateConversation: created", "conversationID", conv.ID, "address", address)
	return conv, nil
}

func (s *sqlStore) UpdateConversationState(ctx context.Context, id string, u models.ConversationUpdate) error {
	if !models.IsValidState(u.State) {
		return fmt.Errorf("%w: %q", models.ErrUnknownState, u.State)
	}
	now := s.stamp()
	sets := []string{"state = ?", "last_activity_at = ?", "updated_at = ?"}
	args := []any{u.State, now, now}
	if u.Context != nil {
		contextJSON, err := encodeContext(*u.Context)
		if err != nil {
			return err
		}
		sets = append(sets, "context = ?")
		args = append(args, contextJSON)
	}
	if u.LinkedShiftID != nil {
		sets = append(sets, "linked_shift_id = ?")
		args = append(args, nullable(*u.LinkedShiftID))
	}
	if u.SubjectID != nil {
		sets = append(sets, "subject_id = ?")
		args = append(args, nullable(*u.SubjectID))
	}
	if u.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, u.ExpiresAt.UTC())
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		s.log.Error("Store.UpdateConversationState: update failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	s.log.Debug("Store.UpdateConversationState: updated", "conversationID", id, "state", u.State)
	return nil
}

func (s *sqlStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		s.log.Error("Store.GetConversationByID: query failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

func (s *sqlStore) ListActiveConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE expires_at > ? AND state <> ? ORDER BY last_activity_at DESC`), s.stamp(), models.StateCompleted)
	if err != nil {
		s.log.Error("Store.ListActiveConversations: query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return convs, nil
}

func (s *sqlStore) CleanupExpiredConversations(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE expires_at <= ?`), s.stamp())
	if err != nil {
		s.log.Error("Store.CleanupExpiredConversations: delete failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("Store.CleanupExpiredConversations: removed expired conversations", "count", n)
	}
	return int(n), nil
}

func (s *sqlStore) RenewConversation(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE conversations SET expires_at = ?, updated_at = ? WHERE id = ?`),
		until.UTC(), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("failed to renew conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

const workerColumns = `id, name, phone, email, emergency_contact, status, created_at, updated_at`

func scanWorker(row rowScanner) (*models.Worker, error) {
	var w models.Worker
	var email, emergency sql.NullString
	if err := row.Scan(&w.ID, &w.Name, &w.Phone, &email, &emergency, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Email = email.String
	w.EmergencyContact = emergency.String
	return &w, nil
}

func (s *sqlStore) findWorker(ctx context.Context, where string, arg string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, s.q(`SELECT `+workerColumns+` FROM workers WHERE `+where), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.log.Error("Store.findWorker: query failed", "error", err)
		return nil, fmt.Errorf("failed to find worker: %w", err)
	}
	return w, nil
}

func (s *sqlStore) FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error) {
	return s.findWorker(ctx, "phone = ?", address)
}

func (s *sqlStore) FindWorkerByID(ctx context.Context, id string) (*models.Worker, error) {
	return s.findWorker(ctx, "id = ?", id)
}

func (s *sqlStore) SaveWorker(ctx context.Context, w models.Worker) error {
	now := s.stamp()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Status == "" {
		w.Status = models.WorkerStatusActive
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, phone = excluded.phone, email = excluded.email,
			emergency_contact = excluded.emergency_contact, status = excluded.status, updated_at = excluded.updated_at`),
		w.ID, w.Name, w.Phone, nullable(w.Email), nullable(w.EmergencyContact), w.Status, w.CreatedAt.UTC(), now)
	if err != nil {
		s.log.Error("Store.SaveWorker: upsert failed", "error", err, "workerID", w.ID)
		return fmt.Errorf("failed to save worker %s: %w", w.ID, err)
	}
	return nil
}

func (s *sqlStore) CreateWorker(ctx context.Context, name, phone string) (*models.Worker, error) {
	existing, err := s.FindWorkerByChannelAddress(ctx, phone)
	if err != nil {
		return nil, err
	}
	now := s.stamp()
	w := models.Worker{ID: util.NewID("w_"), CreatedAt: now}
	if existing != nil {
		w = *existing
	}
	w.Name = name
	w.Phone = phone
	w.Status = models.WorkerStatusActive
	w.UpdatedAt = now
	if err := s.SaveWorker(ctx, w); err != nil {
		return nil, err
	}
	s.log.Info("Store.CreateWorker: worker registered", "workerID", w.ID, "existing", existing != nil)
	return &w, nil
}

var contactColumns = map[models.ContactKind]string{
	models.ContactKindPhone:            "phone",
	models.ContactKindEmail:            "email",
	models.ContactKindEmergencyContact: "emergency_contact",
}

func (s *sqlStore) UpdateWorkerContact(ctx context.Context, workerID string, kind models.ContactKind, value string) error {
	col, ok := contactColumns[kind]
	if !ok {
		return fmt.Errorf("%w: unknown contact kind %q", models.ErrInvalidContext, kind)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE workers SET `+col+` = ?, updated_at = ? WHERE id = ?`), value, s.stamp(), workerID)
	if err != nil {
		s.log.Error("Store.UpdateWorkerContact: update failed", "error", err, "workerID", workerID, "kind", kind)
		return fmt.Errorf("failed to update %s of worker %s: %w", kind, workerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", models.ErrWorkerNotFound, workerID)
	}
	return nil
}

const shiftColumns = `id, title, date, start_time, end_time, location, meeting_point, equipment, contact_name, contact_phone, hourly_rate, created_at`

func (s *sqlStore) FindShiftByID(ctx context.Context, id string) (*models.Shift, error) {
	var sh models.Shift
	var meeting, equipment, contactName, contactPhone sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT `+shiftColumns+` FROM shifts WHERE id = ?`), id).Scan(
		&sh.ID, &sh.Title, &sh.Date, &sh.StartTime, &sh.EndTime, &sh.Location,
		&meeting, &equipment, &contactName, &contactPhone, &sh.HourlyRate, &sh.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.log.Error("Store.FindShiftByID: query failed", "error", err, "shiftID", id)
		return nil, fmt.Errorf("failed to find shift %s: %w", id, err)
	}
	sh.MeetingPoint = meeting.String
	sh.Equipment = equipment.String
	sh.ContactName = contactName.String
	sh.ContactPhone = contactPhone.String
	return &sh, nil
}

func (s *sqlStore) SaveShift(ctx context.Context, sh models.Shift) error {
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO shifts (`+shiftColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, date = excluded.date, start_time = excluded.start_time,
			end_time = excluded.end_time, location = excluded.location, meeting_point = excluded.meeting_point,
			equipment = excluded.equipment, contact_name = excluded.contact_name, contact_phone = excluded.contact_phone,
			hourly_rate = excluded.hourly_rate`),
		sh.ID, sh.Title, sh.Date, sh.StartTime, sh.EndTime, sh.Location, nullable(sh.MeetingPoint),
		nullable(sh.Equipment), nullable(sh.ContactName), nullable(sh.ContactPhone), sh.HourlyRate, sh.CreatedAt.UTC())
	if err != nil {
		s.log.Error("Store.SaveShift: upsert failed", "error", err, "shiftID", sh.ID)
		return fmt.Errorf("failed to save shift %s: %w", sh.ID, err)
	}
	return nil
}

func (s *sqlStore) SetShiftStatus(ctx context.Context, workerID, shiftID string, status models.WorkerShiftStatus) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO worker_shift_status (worker_id, shift_id, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (worker_id, shift_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`),
		workerID, shiftID, status, s.stamp())
	if err != nil {
		s.log.Error("Store.SetShiftStatus: upsert failed", "error", err, "workerID", workerID, "shiftID", shiftID)
		return fmt.Errorf("failed to set status of worker %s for shift %s: %w", workerID, shiftID, err)
	}
	s.log.Debug("Store.SetShiftStatus: status set", "workerID", workerID, "shiftID", shiftID, "status", status)
	return nil
}

func (s *sqlStore) GetShiftStatus(ctx context.Context, workerID, shiftID string) (models.WorkerShiftStatus, error) {
	var status models.WorkerShiftStatus
	err := s.db.QueryRowContext(ctx, s.q(`SELECT status FROM worker_shift_status WHERE worker_id = ? AND shift_id = ?`),
		workerID, shiftID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status of worker %s for shift %s: %w", workerID, shiftID, err)
	}
	return status, nil
}

func (s *sqlStore) RecordOvertimeResponse(ctx context.Context, workerID, shiftID string, accepted bool, hours float64) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO overtime_responses (worker_id, shift_id, accepted, hours, recorded_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (worker_id, shift_id) DO UPDATE SET accepted = excluded.accepted, hours = excluded.hours, recorded_at = excluded.recorded_at`),
		workerID, shiftID, accepted, hours, s.stamp())
	if err != nil {
		s.log.Error("Store.RecordOvertimeResponse: upsert failed", "error", err, "workerID", workerID, "shiftID", shiftID)
		return fmt.Errorf("failed to record overtime response: %w", err)
	}
	return nil
}

func (s *sqlStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO receipts (recipient, status, transport_id, time) VALUES (?, ?, ?, ?)`),
		r.To, r.Status, nullable(r.TransportID), r.Time)
	if err != nil {
		s.log.Error("Store.AddReceipt: insert failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	s.log.Debug("Store.AddReceipt: stored", "to", r.To, "status", r.Status)
	return nil
}

func (s *sqlStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT recipient, status, transport_id, time FROM receipts ORDER BY id`)
	if err != nil {
		s.log.Error("Store.GetReceipts: query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var transportID sql.NullString
		if err := rows.Scan(&r.To, &r.Status, &transportID, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.TransportID = transportID.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

const codeColumns = `code, description, active, usage_count, max_uses, expires_at, created_at`

func (s *sqlStore) AddCode(ctx context.Context, c regcode.Code) error {
	key := regcode.Normalize(c.Code)
	if key == "" {
		return fmt.Errorf("registration code must not be empty")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.stamp()
	}
	var expires any
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO registration_codes (code_key, `+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code_key) DO UPDATE SET code = excluded.code, description = excluded.description, active = excluded.active,
			usage_count = excluded.usage_count, max_uses = excluded.max_uses, expires_at = excluded.expires_at`),
		key, strings.TrimSpace(c.Code), nullable(c.Description), c.Active, c.UsageCount, c.MaxUses, expires, c.CreatedAt.UTC())
	if err != nil {
		s.log.Error("Store.AddCode: upsert failed", "error", err)
		return fmt.Errorf("failed to add registration code: %w", err)
	}
	s.log.Debug("Store.AddCode: code stored", "code", c.Code, "maxUses", c.MaxUses)
	return nil
}

func (s *sqlStore) DeactivateCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE registration_codes SET active = ? WHERE code_key = ?`), false, regcode.Normalize(code))
	if err != nil {
		return fmt.Errorf("failed to deactivate code %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", regcode.ErrCodeNotFound, code)
	}
	return nil
}

func scanCode(row rowScanner) (*regcode.Code, error) {
	var c regcode.Code
	var description sql.NullString
	var expires sql.NullTime
	if err := row.Scan(&c.Code, &description, &c.Active, &c.UsageCount, &c.MaxUses, &expires, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	if expires.Valid {
		t := expires.Time.UTC()
		c.ExpiresAt = &t
	}
	return &c, nil
}

func (s *sqlStore) GetCode(ctx context.Context, code string) (*regcode.Code, error) {
	c, err := scanCode(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+codeColumns+` FROM registration_codes WHERE code_key = ?`), regcode.Normalize(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.log.Error("Store.GetCode: query failed", "error", err)
		return nil, fmt.Errorf("failed to get registration code: %w", err)
	}
	return c, nil
}

func (s *sqlStore) IsValidCode(ctx context.Context, code string) (bool, error) {
	c, err := s.GetCode(ctx, code)
	if err != nil || c == nil {
		return false, err
	}
	return c.Usable(s.now()), nil
}

func (s *sqlStore) RecordCodeUsage(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE registration_codes SET usage_count = usage_count + 1 WHERE code_key = ?`),
		regcode.Normalize(code))
	if err != nil {
		return fmt.Errorf("failed to record usage of code %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", regcode.ErrCodeNotFound, code)
	}
	return nil
}

func (s *sqlStore) ListCodes(ctx context.Context) ([]regcode.Code, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+codeColumns+` FROM registration_codes ORDER BY code_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query registration codes: %w", err)
	}
	defer rows.Close()

	codes := []regcode.Code{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration code row: %w", err)
		}
		codes = append(codes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registration code rows: %w", err)
	}
	return codes, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	s.log.Debug("Store.Close: closing database connection")
	if err := s.db.Close(); err != nil {
		s.log.Error("Store.Close: failed to close database", "error", err)
		return err
	}
	return nil
}
