package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, name, email FROM users WHERE name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.Name, &user.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.taskboard.dev'))
		RETURNING id, name, email
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.Name, &user.Email); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// --- channels / tabs / projects ---

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	err := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id FROM channels WHERE id=$1`, channelID).
		Scan(&ch.ID, &ch.Name, &ch.OwnerID)
	if err != nil {
		return Channel{}, err
	}
	members, err := s.listMembers(ctx, `SELECT user_id FROM channel_members WHERE channel_id=$1`, channelID)
	if err != nil {
		return Channel{}, err
	}
	ch.Members = members
	return ch, nil
}

func (s *PostgresStore) GetTab(ctx context.Context, tabID string) (Tab, error) {
	var tab Tab
	err := s.db.QueryRowContext(ctx, `SELECT id, channel_id, name FROM tabs WHERE id=$1`, tabID).
		Scan(&tab.ID, &tab.ChannelID, &tab.Name)
	if err != nil {
		return Tab{}, err
	}
	members, err := s.listMembers(ctx, `SELECT user_id FROM tab_members WHERE tab_id=$1`, tabID)
	if err != nil {
		return Tab{}, err
	}
	tab.Members = members
	return tab, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `SELECT id, tab_id, channel_id, name, created_by FROM projects WHERE id=$1`, projectID).
		Scan(&p.ID, &p.TabID, &p.ChannelID, &p.Name, &p.CreatedBy)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) listMembers(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

func (s *PostgresStore) InsertChannel(ctx context.Context, ch Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, owner_id) VALUES ($1, $2, $3)`,
		ch.ID, ch.Name, ch.OwnerID)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTab(ctx context.Context, tab Tab) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tabs (id, channel_id, name) VALUES ($1, $2, $3)`,
		tab.ID, tab.ChannelID, tab.Name)
	if err != nil {
		return fmt.Errorf("insert tab: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, tab_id, channel_id, name, created_by) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.TabID, p.ChannelID, p.Name, p.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`, channelID, userID)
	if err != nil {
		return fmt.Errorf("add channel member: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddTabMember(ctx context.Context, tabID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tab_members (tab_id, user_id) VALUES ($1, $2)
		ON CONFLICT (tab_id, user_id) DO NOTHING
	`, tabID, userID)
	if err != nil {
		return fmt.Errorf("add tab member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDefaultChannel(ctx context.Context) (Channel, error) {
	var ch Channel
	err := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id FROM channels ORDER BY created_at ASC LIMIT 1`).
		Scan(&ch.ID, &ch.Name, &ch.OwnerID)
	if err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (s *PostgresStore) ListChannelTabs(ctx context.Context, channelID string) ([]Tab, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_id, name FROM tabs WHERE channel_id=$1 ORDER BY created_at ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	defer rows.Close()
	var tabs []Tab
	for rows.Next() {
		var tab Tab
		if err := rows.Scan(&tab.ID, &tab.ChannelID, &tab.Name); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, tab)
	}
	return tabs, rows.Err()
}

// --- tasks ---

const taskColumns = `id, project_id, title, description, created_by, assigned_to, status,
	priority, due_date, tags, color, task_type, custom_fields, version, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		task         Task
		assignedTo   []byte
		tags         []byte
		customFields []byte
	)
	err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.CreatedBy,
		&assignedTo, &task.Status, &task.Priority, &task.DueDate, &tags, &task.Color,
		&task.TaskType, &customFields, &task.Version, &task.IsActive, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	if len(assignedTo) > 0 {
		if err := json.Unmarshal(assignedTo, &task.AssignedTo); err != nil {
			return Task{}, fmt.Errorf("decode assigned_to: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &task.Tags); err != nil {
			return Task{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	task.CustomFields = customFields
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND is_active`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	assignedTo, err := json.Marshal(emptyIfNil(task.AssignedTo))
	if err != nil {
		return Task{}, fmt.Errorf("encode assigned_to: %w", err)
	}
	tags, err := json.Marshal(emptyIfNil(task.Tags))
	if err != nil {
		return Task{}, fmt.Errorf("encode tags: %w", err)
	}
	customFields := task.CustomFields
	if len(customFields) == 0 {
		customFields = json.RawMessage(`{}`)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, created_by, assigned_to,
			status, priority, due_date, tags, color, task_type, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+taskColumns,
		task.ID, task.ProjectID, task.Title, task.Description, task.CreatedBy, assignedTo,
		task.Status, task.Priority, task.DueDate, tags, task.Color, task.TaskType, customFields)
	inserted, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 AND is_active ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// updatableColumns maps wire field names to columns a field update may touch
// directly. Anything else lands in the custom_fields document, so an unknown
// field name can never clobber a schema column.
var updatableColumns = map[string]string{
	"title":       "title",
	"description": "description",
	"status":      "status",
	"priority":    "priority",
	"color":       "color",
	"taskType":    "task_type",
	"dueDate":     "due_date",
	"assignedTo":  "assigned_to",
	"tags":        "tags",
}

// UpdateTaskField sets one field, bumps version and updated_at, and returns
// the updated row, all in a single statement, so the version increment is
// atomic at the store level regardless of the in-process lock table.
func (s *PostgresStore) UpdateTaskField(ctx context.Context, taskID, field string, value any) (Task, error) {
	column, direct := updatableColumns[field]
	var (
		query string
		arg   any
	)
	switch {
	case !direct:
		encoded, err := json.Marshal(value)
		if err != nil {
			return Task{}, fmt.Errorf("encode custom field %s: %w", field, err)
		}
		query = `UPDATE tasks
			SET custom_fields = jsonb_set(COALESCE(custom_fields, '{}'::jsonb), ARRAY[$2], $3::jsonb, true),
				version = version + 1, updated_at = NOW()
			WHERE id=$1 AND is_active
			RETURNING ` + taskColumns
		row := s.db.QueryRowContext(ctx, query, taskID, field, encoded)
		return scanTask(row)
	case column == "assigned_to" || column == "tags":
		list, ok := value.([]string)
		if !ok {
			return Task{}, fmt.Errorf("field %s: expected string list, got %T", field, value)
		}
		encoded, err := json.Marshal(emptyIfNil(list))
		if err != nil {
			return Task{}, fmt.Errorf("encode %s: %w", field, err)
		}
		arg = encoded
	default:
		arg = value
	}

	query = `UPDATE tasks
		SET ` + column + ` = $2, version = version + 1, updated_at = NOW()
		WHERE id=$1 AND is_active
		RETURNING ` + taskColumns
	row := s.db.QueryRowContext(ctx, query, taskID, arg)
	return scanTask(row)
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// --- activity ---

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	oldValue := activity.OldValue
	if len(oldValue) == 0 {
		oldValue = json.RawMessage(`null`)
	}
	newValue := activity.NewValue
	if len(newValue) == 0 {
		newValue = json.RawMessage(`null`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, project_id, task_id, subtask_id, user_id, action,
			field, old_value, new_value, for_creator, for_others)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
	`, activity.ID, activity.ProjectID, activity.TaskID, activity.SubtaskID, activity.UserID,
		activity.Action, activity.Field, oldValue, newValue, activity.ForCreator, activity.ForOthers)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTaskActivity(ctx context.Context, taskID string, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, task_id, COALESCE(subtask_id, ''), user_id, action, field,
			old_value, new_value, for_creator, for_others, created_at
		FROM activities WHERE task_id=$1 ORDER BY created_at DESC LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var items []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.SubtaskID, &a.UserID, &a.Action,
			&a.Field, &a.OldValue, &a.NewValue, &a.ForCreator, &a.ForOthers, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// --- notifications ---

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, channel_id, tab_id, project_id,
			task_id, created_by, title, message, context_path)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
	`, n.ID, n.UserID, n.Type, n.ChannelID, n.TabID, n.ProjectID, n.TaskID,
		n.CreatedBy, n.Title, n.Message, n.ContextPath)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, COALESCE(channel_id, ''), COALESCE(tab_id, ''),
			COALESCE(project_id, ''), COALESCE(task_id, ''), created_by, title, message,
			context_path, is_read, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.ChannelID, &n.TabID, &n.ProjectID,
			&n.TaskID, &n.CreatedBy, &n.Title, &n.Message, &n.ContextPath, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected > 0, nil
}

// --- websocket tickets (Postgres fallback when Redis is not configured) ---

func (s *PostgresStore) SaveTicket(ctx context.Context, ticketHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO socket_tickets (ticket_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticket_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at
	`, ticketHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// TakeTicket consumes a ticket: it is deleted on first use so a sniffed
// upgrade URL cannot be replayed.
func (s *PostgresStore) TakeTicket(ctx context.Context, ticketHash string) (User, error) {
	const query = `
		DELETE FROM socket_tickets st
		USING users u
		WHERE st.ticket_hash = $1 AND st.expires_at > NOW() AND u.id = st.user_id
		RETURNING u.id, u.name, u.email
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, ticketHash).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
