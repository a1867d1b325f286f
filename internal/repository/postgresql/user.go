package postgresql

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/gmartinelli/pedidos/internal/db"
	"github.com/gmartinelli/pedidos/internal/repository"
)

type UserRepo struct {
	db db.DB
}

func NewUserRepo(db db.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetAll(ctx context.Context) ([]*repository.UserRow, error) {
	var users []*repository.UserRow
	err := r.db.Select(ctx, &users, "SELECT * FROM users ORDER BY name")
	return users, err
}

func (r *UserRepo) ValidateUser(ctx context.Context, name, password string) (bool, error) {
	var hashedPassword string
	err := r.db.ExecQueryRow(ctx,
		"SELECT password_hash FROM users WHERE name = $1", name).Scan(&hashedPassword)
	if err != nil {
		return false, errors.New("user not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
