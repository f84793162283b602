package identity

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GormDirectory reads the identity store's tables directly. It never writes.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) find(ctx context.Context, table, columns, id string) (*Record, error) {
	var rec Record
	err := d.db.WithContext(ctx).Table(table).Select(columns).Where("id = ?", id).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (d *GormDirectory) ResolveProject(ctx context.Context, id string) (*Record, error) {
	return d.find(ctx, "projects", "id, name, address, company_id", id)
}

func (d *GormDirectory) ResolveWorker(ctx context.Context, id string) (*Record, error) {
	return d.find(ctx, "workers", "id, name, address", id)
}

func (d *GormDirectory) ResolveCompany(ctx context.Context, id string) (*Record, error) {
	return d.find(ctx, "companies", "id, name, address", id)
}
