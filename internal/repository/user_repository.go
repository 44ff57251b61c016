package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// roleTables порядок обхода ролевых таблиц — он фиксирован, от него зависит
// детерминизм резолвера идентификаторов
var roleTables = []struct {
	table string
	role  model.Role
}{
	{"admins", model.RoleAdmin},
	{"teachers", model.RoleTeacher},
	{"students", model.RoleStudent},
}

const userColumns = "id, auth_id, email, display_name, status, telegram_chat_id, created_at"

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{Repository: base.NewRepository(pool)}
}

func (r *UserRepository) scanUser(row pgx.Row, role model.Role) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.AuthID,
		&user.Email,
		&user.DisplayName,
		&user.Status,
		&user.TelegramChatID,
		&user.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = role
	return &user, nil
}

// Create создаёт пользователя в таблице его роли
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	table, err := tableForRole(user.Role)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, auth_id, email, display_name, status, telegram_chat_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, table)

	err = r.QueryRow(
		ctx, query,
		user.ID,
		user.AuthID,
		strings.ToLower(user.Email),
		user.DisplayName,
		user.Status,
		user.TelegramChatID,
	).Scan(&user.CreatedAt)

	if err != nil {
		return fmt.Errorf("create %s: %w", user.Role, err)
	}

	return nil
}

// GetByID ищет пользователя по ID документа во всех ролевых таблицах по порядку
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	for _, rt := range roleTables {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", userColumns, rt.table)
		user, err := r.scanUser(r.QueryRow(ctx, query, id), rt.role)
		if err != nil {
			return nil, fmt.Errorf("get user by id from %s: %w", rt.table, err)
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, nil
}

// GetByIDInRole ищет пользователя по ID только в таблице указанной роли
func (r *UserRepository) GetByIDInRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	table, err := tableForRole(role)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", userColumns, table)
	user, scanErr := r.scanUser(r.QueryRow(ctx, query, id), role)
	if scanErr != nil {
		return nil, fmt.Errorf("get %s by id: %w", role, scanErr)
	}
	return user, nil
}

// FindByAuthID ищет пользователей с таким auth_id во всех ролевых таблицах.
// auth_id не уникален, поэтому возвращается срез.
func (r *UserRepository) FindByAuthID(ctx context.Context, authID string) ([]*model.User, error) {
	if authID == "" {
		return nil, nil
	}
	return r.findInAllTables(ctx, "auth_id = $1", authID)
}

// FindByEmail ищет пользователей по email (без учёта регистра)
func (r *UserRepository) FindByEmail(ctx context.Context, email string) ([]*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findInAllTables(ctx, "email = $1", strings.ToLower(email))
}

func (r *UserRepository) findInAllTables(ctx context.Context, where string, arg string) ([]*model.User, error) {
	var found []*model.User
	for _, rt := range roleTables {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", userColumns, rt.table, where)
		rows, err := r.Query(ctx, query, arg)
		if err != nil {
			return nil, fmt.Errorf("find users in %s: %w", rt.table, err)
		}

		for rows.Next() {
			var user model.User
			err := rows.Scan(
				&user.ID,
				&user.AuthID,
				&user.Email,
				&user.DisplayName,
				&user.Status,
				&user.TelegramChatID,
				&user.CreatedAt,
			)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan user from %s: %w", rt.table, err)
			}
			user.Role = rt.role
			found = append(found, &user)
		}
		rows.Close()

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate users in %s: %w", rt.table, err)
		}
	}
	return found, nil
}

// IsAdmin проверяет есть ли пользователь с одним из идентификаторов в таблице админов
func (r *UserRepository) IsAdmin(ctx context.Context, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS (SELECT 1 FROM admins WHERE id = ANY($1) OR auth_id = ANY($1))`

	var exists bool
	if err := r.QueryRow(ctx, query, keys).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return exists, nil
}

// IsTeacher проверяет есть ли пользователь с одним из идентификаторов в таблице учителей
func (r *UserRepository) IsTeacher(ctx context.Context, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS (SELECT 1 FROM teachers WHERE id = ANY($1) OR auth_id = ANY($1) OR email = ANY($1))`

	var exists bool
	if err := r.QueryRow(ctx, query, keys).Scan(&exists); err != nil {
		return false, fmt.Errorf("check teacher: %w", err)
	}
	return exists, nil
}

// GetTelegramChatID возвращает первый привязанный Telegram chat id среди
// пользователей с такими идентификаторами (0 если никто не привязан)
func (r *UserRepository) GetTelegramChatID(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	for _, rt := range roleTables {
		query := fmt.Sprintf(`
			SELECT telegram_chat_id FROM %s
			WHERE telegram_chat_id <> 0 AND (id = ANY($1) OR auth_id = ANY($1) OR email = ANY($1))
			LIMIT 1
		`, rt.table)

		var chatID int64
		err := r.QueryRow(ctx, query, keys).Scan(&chatID)
		if err != nil {
			if base.IsNotFound(err) {
				continue
			}
			return 0, fmt.Errorf("get telegram chat id from %s: %w", rt.table, err)
		}
		return chatID, nil
	}
	return 0, nil
}

func tableForRole(role model.Role) (string, error) {
	for _, rt := range roleTables {
		if rt.role == role {
			return rt.table, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", role)
}
