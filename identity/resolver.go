// Package identity reads the projects, workers and companies owned by the
// external identity store. The lifecycle engine only needs to know that an id
// exists and a few fields for notification payloads.
package identity

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("identity not found")

type Kind string

const (
	KindProject Kind = "project"
	KindWorker  Kind = "worker"
	KindCompany Kind = "company"
)

// Record is the minimal view of an identity store entry. CompanyId is only set
// for projects.
type Record struct {
	Id        string `json:"id" yaml:"id" gorm:"column:id"`
	Name      string `json:"name" yaml:"name" gorm:"column:name"`
	Address   string `json:"address" yaml:"address" gorm:"column:address"`
	CompanyId string `json:"company_id,omitempty" yaml:"company_id" gorm:"column:company_id"`
}

// Resolver methods return ErrNotFound for unknown ids.
type Resolver interface {
	ResolveProject(ctx context.Context, id string) (*Record, error)
	ResolveWorker(ctx context.Context, id string) (*Record, error)
	ResolveCompany(ctx context.Context, id string) (*Record, error)
}
