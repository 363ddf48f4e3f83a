package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"task-tracker/internal/domain"
	"task-tracker/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo         = (*Postgres)(nil)
	_ domain.TaskRepo         = (*Postgres)(nil)
	_ domain.NotificationRepo = (*Postgres)(nil)
	_ domain.LinkRepo         = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser сохраняет пользователя. Запись привязки создаётся отдельным
// шагом в usecase регистрации, чтобы инвариант «у каждого пользователя ровно
// один LinkAccount» обеспечивался самим путём создания.
func (p *Postgres) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (email, first_name, last_name, status)
VALUES ($1, $2, $3, 'active')
RETURNING id, status, created_at
`, user.Email, user.FirstName, user.LastName).Scan(&user.ID, &user.Status, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "insert", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("создание пользователя: %w", err)
	}
	return user, nil
}

// GetByID возвращает пользователя по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return p.getUser(ctx, `WHERE id = $1`, id)
}

// GetByEmail возвращает пользователя по email.
func (p *Postgres) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return p.getUser(ctx, `WHERE email = $1`, email)
}

func (p *Postgres) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user      domain.User
		deletedAt sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, email, first_name, last_name, status, deleted_at, created_at
FROM users `+where, arg).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Status, &deletedAt, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "select", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("выборка пользователя: %w", err)
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return user, nil
}

// SoftDelete помечает пользователя удалённым, не стирая запись.
func (p *Postgres) SoftDelete(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE users SET status = 'deleted', deleted_at = now()
WHERE id = $1 AND status = 'active'
`, id)
	metrics.ObserveNetworkRequest("postgres", "update", "users", start, err)
	if err != nil {
		return fmt.Errorf("удаление пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateList сохраняет список задач.
func (p *Postgres) CreateList(ctx context.Context, list domain.TaskList) (domain.TaskList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO task_lists (name, created_by) VALUES ($1, $2)
RETURNING id, created_at
`, list.Name, list.CreatedBy).Scan(&list.ID, &list.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "insert", "task_lists", start, err)
	if err != nil {
		return domain.TaskList{}, fmt.Errorf("создание списка: %w", err)
	}
	return list, nil
}

// CreateTask сохраняет задачу.
func (p *Postgres) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if task.Status == "" {
		task.Status = domain.StatusPending
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO tasks (list_id, title, description, assignee_id, due_date, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at
`, task.ListID, task.Title, task.Description, task.AssigneeID, task.DueDate, task.Status, task.CreatedBy).
		Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "insert", "tasks", start, err)
	if err != nil {
		return domain.Task{}, fmt.Errorf("создание задачи: %w", err)
	}
	return task, nil
}

// UpdateTask перезаписывает изменяемые поля задачи.
func (p *Postgres) UpdateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE tasks
SET title = $2, description = $3, assignee_id = $4, due_date = $5, status = $6, updated_at = now()
WHERE id = $1
RETURNING updated_at
`, task.ID, task.Title, task.Description, task.AssigneeID, task.DueDate, task.Status).Scan(&task.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "update", "tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("обновление задачи: %w", err)
	}
	return task, nil
}

const taskColumns = `id, list_id, title, description, assignee_id, due_date, status, created_by, created_at, updated_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		task       domain.Task
		assigneeID sql.NullInt64
		dueDate    sql.NullTime
	)
	err := row.Scan(&task.ID, &task.ListID, &task.Title, &task.Description, &assigneeID, &dueDate, &task.Status, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if assigneeID.Valid {
		task.AssigneeID = &assigneeID.Int64
	}
	if dueDate.Valid {
		task.DueDate = &dueDate.Time
	}
	return task, nil
}

// GetTask возвращает задачу по идентификатору.
func (p *Postgres) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	task, err := scanTask(p.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "select", "tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("выборка задачи: %w", err)
	}
	return task, nil
}

// DeleteTask удаляет задачу.
func (p *Postgres) DeleteTask(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "delete", "tasks", start, err)
	if err != nil {
		return fmt.Errorf("удаление задачи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveByAssignee возвращает незавершённые задачи исполнителя,
// ближайшие сроки первыми.
func (p *Postgres) ListActiveByAssignee(ctx context.Context, userID int64) ([]domain.Task, error) {
	return p.listTasks(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE assignee_id = $1 AND status <> 'completed'
ORDER BY due_date NULLS LAST, id
`, userID)
}

// ListOverdue возвращает задачи с истёкшим сроком, кроме завершённых.
func (p *Postgres) ListOverdue(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return p.listTasks(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE due_date < $1 AND status <> 'completed'
ORDER BY due_date
`, now)
}

func (p *Postgres) listTasks(ctx context.Context, query string, arg any) ([]domain.Task, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, arg)
	metrics.ObserveNetworkRequest("postgres", "select", "tasks", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка задач: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение задачи: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreateNotification добавляет запись в журнал уведомлений.
func (p *Postgres) CreateNotification(ctx context.Context, userID int64, message string) (domain.Notification, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	n := domain.Notification{UserID: userID, Message: message}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO notifications (user_id, message) VALUES ($1, $2)
RETURNING id, is_read, created_at
`, userID, message).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "insert", "notifications", start, err)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("создание уведомления: %w", err)
	}
	return n, nil
}

// HasRecentWithTitle реализует окно дедупликации: ищет у пользователя
// уведомление новее since, содержащее название задачи как подстроку.
// Эвристика сознательно грубая — две разные задачи с одинаковым названием
// подавят друг друга внутри окна.
func (p *Postgres) HasRecentWithTitle(ctx context.Context, userID int64, title string, since time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM notifications
    WHERE user_id = $1 AND created_at >= $3 AND message ILIKE '%' || $2 || '%'
)`, userID, title, since).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "select", "notifications", start, err)
	if err != nil {
		return false, fmt.Errorf("проверка дубликатов: %w", err)
	}
	return exists, nil
}

// ListByUser возвращает уведомления пользователя, новые первыми.
func (p *Postgres) ListByUser(ctx context.Context, userID int64) ([]domain.Notification, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, message, is_read, created_at
FROM notifications WHERE user_id = $1
ORDER BY created_at DESC, id DESC
`, userID)
	metrics.ObserveNetworkRequest("postgres", "select", "notifications", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка уведомлений: %w", err)
	}
	defer rows.Close()

	var items []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение уведомления: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// UnreadCount возвращает число непрочитанных уведомлений.
func (p *Postgres) UnreadCount(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read
`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "select", "notifications", start, err)
	if err != nil {
		return 0, fmt.Errorf("подсчёт непрочитанных: %w", err)
	}
	return count, nil
}

// MarkRead помечает уведомление прочитанным. Чужие и уже прочитанные
// записи не трогаются.
func (p *Postgres) MarkRead(ctx context.Context, userID, notificationID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE notifications SET is_read = true
WHERE id = $1 AND user_id = $2 AND NOT is_read
`, notificationID, userID)
	metrics.ObserveNetworkRequest("postgres", "update", "notifications", start, err)
	if err != nil {
		return fmt.Errorf("отметка прочтения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAllRead помечает все уведомления пользователя прочитанными.
func (p *Postgres) MarkAllRead(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE notifications SET is_read = true WHERE user_id = $1 AND NOT is_read
`, userID)
	metrics.ObserveNetworkRequest("postgres", "update", "notifications", start, err)
	if err != nil {
		return fmt.Errorf("отметка прочтения: %w", err)
	}
	return nil
}

const linkColumns = `id, user_id, COALESCE(chat_id, ''), link_token, linked_at`

func scanLink(row pgx.Row) (domain.LinkAccount, error) {
	var (
		account  domain.LinkAccount
		linkedAt sql.NullTime
	)
	if err := row.Scan(&account.ID, &account.UserID, &account.ChatID, &account.LinkToken, &linkedAt); err != nil {
		return domain.LinkAccount{}, err
	}
	if linkedAt.Valid {
		account.LinkedAt = &linkedAt.Time
	}
	return account, nil
}

// GetOrCreate возвращает запись привязки, создавая её при первом обращении.
// Гонку двух одновременных созданий разрешает уникальное ограничение на
// user_id: проигравший вставку перечитывает существующую запись.
func (p *Postgres) GetOrCreate(ctx context.Context, userID int64) (domain.LinkAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	account, err := p.findLink(ctx, `WHERE user_id = $1`, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.LinkAccount{}, err
	}

	token := uuid.NewString()
	start := time.Now()
	account, err = scanLink(p.pool.QueryRow(ctx, `
INSERT INTO link_accounts (user_id, link_token) VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING
RETURNING `+linkColumns, userID, token))
	metrics.ObserveNetworkRequest("postgres", "insert", "link_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		// Конкурентная вставка успела раньше.
		return p.findLink(ctx, `WHERE user_id = $1`, userID)
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("создание привязки: %w", err)
	}
	return account, nil
}

// RegenerateToken заменяет токен привязки, не трогая chat_id и linked_at.
// Старый токен перестаёт действовать сразу.
func (p *Postgres) RegenerateToken(ctx context.Context, userID int64) (domain.LinkAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	token := uuid.NewString()
	start := time.Now()
	account, err := scanLink(p.pool.QueryRow(ctx, `
UPDATE link_accounts SET link_token = $2 WHERE user_id = $1
RETURNING `+linkColumns, userID, token))
	metrics.ObserveNetworkRequest("postgres", "update", "link_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LinkAccount{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("перевыпуск токена: %w", err)
	}
	return account, nil
}

// FindByToken ищет привязку по токену.
func (p *Postgres) FindByToken(ctx context.Context, token string) (domain.LinkAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return p.findLink(ctx, `WHERE link_token = $1`, token)
}

// FindByChatID ищет привязку по chat_id. Привязки удалённых пользователей
// не возвращаются.
func (p *Postgres) FindByChatID(ctx context.Context, chatID string) (domain.LinkAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	account, err := scanLink(p.pool.QueryRow(ctx, `
SELECT a.id, a.user_id, COALESCE(a.chat_id, ''), a.link_token, a.linked_at
FROM link_accounts a
JOIN users u ON u.id = a.user_id
WHERE a.chat_id = $1 AND u.status = 'active'
`, chatID))
	metrics.ObserveNetworkRequest("postgres", "select", "link_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LinkAccount{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("поиск привязки: %w", err)
	}
	return account, nil
}

func (p *Postgres) findLink(ctx context.Context, where string, arg any) (domain.LinkAccount, error) {
	start := time.Now()
	account, err := scanLink(p.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM link_accounts `+where, arg))
	metrics.ObserveNetworkRequest("postgres", "select", "link_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LinkAccount{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("поиск привязки: %w", err)
	}
	return account, nil
}

// Link в одной транзакции находит привязку по токену и записывает chat_id.
// Повторная привязка того же токена перезаписывает чат: последний
// закоммитивший выигрывает. Попытка занять чужой chat_id упирается в
// уникальное ограничение и возвращает ErrChatAlreadyLinked.
func (p *Postgres) Link(ctx context.Context, token, chatID string) (domain.LinkAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "link_accounts", start, err)
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
SELECT id FROM link_accounts WHERE link_token = $1 FOR UPDATE
`, token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LinkAccount{}, domain.ErrInvalidToken
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("поиск токена: %w", err)
	}

	account, err := scanLink(tx.QueryRow(ctx, `
UPDATE link_accounts SET chat_id = $2, linked_at = now() WHERE id = $1
RETURNING `+linkColumns, id, chatID))
	if isUniqueViolation(err) {
		return domain.LinkAccount{}, domain.ErrChatAlreadyLinked
	}
	if err != nil {
		return domain.LinkAccount{}, fmt.Errorf("запись привязки: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.LinkAccount{}, domain.ErrChatAlreadyLinked
		}
		return domain.LinkAccount{}, fmt.Errorf("фиксация привязки: %w", err)
	}
	return account, nil
}
