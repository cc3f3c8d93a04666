package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"QRKot/internal/model"
)

// ErrNotFound возвращается при отсутствии записи
var ErrNotFound = errors.New("record not found")

// коды ошибок PostgreSQL, на которые реагирует хранилище
const (
	pqSerializationFailure pq.ErrorCode = "40001"
	pqDeadlockDetected     pq.ErrorCode = "40P01"
	pqUniqueViolation      pq.ErrorCode = "23505"
)

const projectColumns = `id, name, description, full_amount, invested_amount, fully_invested, create_date, close_date`

const donationColumns = `id, user_id, comment, full_amount, invested_amount, fully_invested, create_date, close_date`

// Tx: операции над проектами и пожертвованиями внутри одной транзакции.
// Получается только через Store.InTx.
type Tx interface {
	OpenProjects(ctx context.Context) ([]*model.CharityProject, error)
	OpenDonations(ctx context.Context) ([]*model.Donation, error)
	GetProject(ctx context.Context, id int) (*model.CharityProject, error)
	ProjectNameTaken(ctx context.Context, name string, excludeID int) (bool, error)
	CreateProject(ctx context.Context, p *model.CharityProject) error
	CreateDonation(ctx context.Context, d *model.Donation) error
	SaveProject(ctx context.Context, p *model.CharityProject) error
	SaveDonation(ctx context.Context, d *model.Donation) error
	DeleteProject(ctx context.Context, id int) error
}

// querier: общее подмножество *sql.DB и *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner: общее подмножество *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// Store реализует доступ к таблицам charity_project и donation
type Store struct {
	db      *sql.DB
	retries int
}

// NewStore создаёт хранилище; retries: число попыток транзакции
// при конфликте сериализации
func NewStore(db *sql.DB, retries int) *Store {
	if retries < 1 {
		retries = 1
	}
	return &Store{db: db, retries: retries}
}

// InTx выполняет fn в сериализуемой транзакции. Все изменения либо фиксируются
// вместе, либо откатываются. При конфликте сериализации или взаимной блокировке
// fn выполняется заново целиком.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isRetryable определяет ошибки, после которых транзакцию можно повторить
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// isUniqueViolation определяет нарушение ограничения уникальности
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// ListProjects возвращает все проекты в порядке создания
func (s *Store) ListProjects(ctx context.Context) ([]model.CharityProject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM charity_project ORDER BY create_date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select projects: %w", err)
	}
	defer rows.Close()
	projects := []model.CharityProject{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// GetProject возвращает проект по id без блокировки
func (s *Store) GetProject(ctx context.Context, id int) (*model.CharityProject, error) {
	return getProject(ctx, s.db, `SELECT `+projectColumns+` FROM charity_project WHERE id=$1`, id)
}

// ListDonations возвращает все пожертвования в порядке создания
func (s *Store) ListDonations(ctx context.Context) ([]model.Donation, error) {
	return listDonations(ctx, s.db, `SELECT `+donationColumns+` FROM donation ORDER BY create_date ASC, id ASC`)
}

// ListUserDonations возвращает пожертвования одного пользователя
func (s *Store) ListUserDonations(ctx context.Context, userID int) ([]model.Donation, error) {
	return listDonations(ctx, s.db, `SELECT `+donationColumns+` FROM donation WHERE user_id=$1 ORDER BY create_date ASC, id ASC`, userID)
}

// ProjectsByCompletionRate возвращает закрытые проекты, отсортированные
// по времени сбора средств (от самых быстрых)
func (s *Store) ProjectsByCompletionRate(ctx context.Context) ([]model.ProjectCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description,
		EXTRACT(EPOCH FROM (close_date - create_date))::bigint AS completion_rate
		FROM charity_project WHERE fully_invested = true
		ORDER BY completion_rate ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select completion rates: %w", err)
	}
	defer rows.Close()
	report := []model.ProjectCompletion{}
	for rows.Next() {
		var pc model.ProjectCompletion
		if err := rows.Scan(&pc.ID, &pc.Name, &pc.Description, &pc.CompletionSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan completion rate: %w", err)
		}
		report = append(report, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completion rates: %w", err)
	}
	return report, nil
}

// pgTx реализует Tx поверх *sql.Tx
type pgTx struct {
	q querier
}

// OpenProjects возвращает открытые проекты от старых к новым и блокирует их строки
func (t *pgTx) OpenProjects(ctx context.Context) ([]*model.CharityProject, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+projectColumns+` FROM charity_project
		WHERE fully_invested = false ORDER BY create_date ASC, id ASC FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("failed to select open projects: %w", err)
	}
	defer rows.Close()
	var projects []*model.CharityProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open projects: %w", err)
	}
	return projects, nil
}

// OpenDonations возвращает открытые пожертвования от старых к новым и блокирует их строки
func (t *pgTx) OpenDonations(ctx context.Context) ([]*model.Donation, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+donationColumns+` FROM donation
		WHERE fully_invested = false ORDER BY create_date ASC, id ASC FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("failed to select open donations: %w", err)
	}
	defer rows.Close()
	var donations []*model.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open donations: %w", err)
	}
	return donations, nil
}

// GetProject возвращает проект по id с блокировкой строки
func (t *pgTx) GetProject(ctx context.Context, id int) (*model.CharityProject, error) {
	return getProject(ctx, t.q, `SELECT `+projectColumns+` FROM charity_project WHERE id=$1 FOR UPDATE`, id)
}

// ProjectNameTaken проверяет, занято ли имя другим проектом
func (t *pgTx) ProjectNameTaken(ctx context.Context, name string, excludeID int) (bool, error) {
	var taken bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM charity_project WHERE name=$1 AND id<>$2)`, name, excludeID).
		Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check project name: %w", err)
	}
	return taken, nil
}

// CreateProject добавляет проект. create_date берётся из p, чтобы даты создания
// и закрытия шли по одним часам; id, invested_amount и fully_invested
// заполняются значениями по умолчанию из БД
func (t *pgTx) CreateProject(ctx context.Context, p *model.CharityProject) error {
	query := `INSERT INTO charity_project(name, description, full_amount, create_date) VALUES($1, $2, $3, $4)
		RETURNING id, invested_amount, fully_invested`
	err := t.q.QueryRowContext(ctx, query, p.Name, p.Description, p.FullAmount, p.CreateDate).
		Scan(&p.ID, &p.InvestedAmount, &p.FullyInvested)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrNameTaken
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// CreateDonation добавляет пожертвование с create_date из d
func (t *pgTx) CreateDonation(ctx context.Context, d *model.Donation) error {
	query := `INSERT INTO donation(user_id, comment, full_amount, create_date) VALUES($1, $2, $3, $4)
		RETURNING id, invested_amount, fully_invested`
	err := t.q.QueryRowContext(ctx, query, d.UserID, d.Comment, d.FullAmount, d.CreateDate).
		Scan(&d.ID, &d.InvestedAmount, &d.FullyInvested)
	if err != nil {
		return fmt.Errorf("failed to insert donation: %w", err)
	}
	return nil
}

// SaveProject сохраняет изменяемые поля проекта
func (t *pgTx) SaveProject(ctx context.Context, p *model.CharityProject) error {
	query := `UPDATE charity_project SET name=$1, description=$2, full_amount=$3, invested_amount=$4, fully_invested=$5, close_date=$6 WHERE id=$7`
	res, err := t.q.ExecContext(ctx, query, p.Name, p.Description, p.FullAmount, p.InvestedAmount, p.FullyInvested, p.CloseDate, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrNameTaken
		}
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectAffected(res, "project")
}

// SaveDonation сохраняет состояние распределения пожертвования
func (t *pgTx) SaveDonation(ctx context.Context, d *model.Donation) error {
	query := `UPDATE donation SET invested_amount=$1, fully_invested=$2, close_date=$3 WHERE id=$4`
	res, err := t.q.ExecContext(ctx, query, d.InvestedAmount, d.FullyInvested, d.CloseDate, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update donation: %w", err)
	}
	return expectAffected(res, "donation")
}

// DeleteProject удаляет проект по id
func (t *pgTx) DeleteProject(ctx context.Context, id int) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM charity_project WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectAffected(res, "project")
}

func expectAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected %s rows: %w", entity, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func getProject(ctx context.Context, q querier, query string, id int) (*model.CharityProject, error) {
	p, err := scanProject(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func listDonations(ctx context.Context, q querier, query string, args ...interface{}) ([]model.Donation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select donations: %w", err)
	}
	defer rows.Close()
	donations := []model.Donation{}
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donations: %w", err)
	}
	return donations, nil
}

func scanProject(row scanner) (*model.CharityProject, error) {
	var p model.CharityProject
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.FullAmount, &p.InvestedAmount, &p.FullyInvested, &p.CreateDate, &p.CloseDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

func scanDonation(row scanner) (*model.Donation, error) {
	var d model.Donation
	err := row.Scan(&d.ID, &d.UserID, &d.Comment, &d.FullAmount, &d.InvestedAmount, &d.FullyInvested, &d.CreateDate, &d.CloseDate)
	if err != nil {
		return nil, fmt.Errorf("failed to scan donation: %w", err)
	}
	return &d, nil
}
