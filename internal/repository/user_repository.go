package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

type UserListQuery struct {
	PageRequest
	Email  string
	Role   string
	Active *bool
}

type AdminUserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.AdminUser, error)
	FindByEmail(ctx context.Context, email string) (*domain.AdminUser, error)
	Create(ctx context.Context, user *domain.AdminUser) error
	Update(ctx context.Context, user *domain.AdminUser) error
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.AdminUser], error)
	Ping(ctx context.Context) error
}

type GormAdminUserRepository struct{ db *gorm.DB }

func NewAdminUserRepository(db *gorm.DB) AdminUserRepository {
	return &GormAdminUserRepository{db: db}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormAdminUserRepository) FindByID(ctx context.Context, id uint) (*domain.AdminUser, error) {
	var u domain.AdminUser
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		return nil, r.lookupErr(ctx, "find_by_id", err)
	}
	observability.RecordRepositoryOperation(ctx, "admin_user", "find_by_id", "success")
	return &u, nil
}

func (r *GormAdminUserRepository) FindByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	var u domain.AdminUser
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		return nil, r.lookupErr(ctx, "find_by_email", err)
	}
	observability.RecordRepositoryOperation(ctx, "admin_user", "find_by_email", "success")
	return &u, nil
}

func (r *GormAdminUserRepository) lookupErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observability.RecordRepositoryOperation(ctx, "admin_user", op, "not_found")
		return ErrNotFound
	}
	observability.RecordRepositoryOperation(ctx, "admin_user", op, "error")
	return err
}

func (r *GormAdminUserRepository) Create(ctx context.Context, user *domain.AdminUser) error {
	user.Email = NormalizeEmail(user.Email)
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "admin_user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "admin_user", "create", "success")
	return nil
}

func (r *GormAdminUserRepository) Update(ctx context.Context, user *domain.AdminUser) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "admin_user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "admin_user", "update", "success")
	return nil
}

func (r *GormAdminUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.AdminUser], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.AdminUser]{
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	base := r.db.WithContext(ctx).Model(&domain.AdminUser{})
	if query.Email != "" {
		base = base.Where("email LIKE ?", NormalizeEmail(query.Email)+"%")
	}
	if query.Role != "" {
		base = base.Where("role = ?", query.Role)
	}
	if query.Active != nil {
		base = base.Where("active = ?", *query.Active)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "admin_user", "list_paged", "error")
		return PageResult[domain.AdminUser]{}, err
	}
	if err := base.Order("id ASC").Offset(req.offset()).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "admin_user", "list_paged", "error")
		return PageResult[domain.AdminUser]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "admin_user", "list_paged", "success")
	return result, nil
}

func (r *GormAdminUserRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
