// Package storage persists the tenant topology. Every call is scoped by
// tenant id; an entity of another tenant is reported as not found.
package storage

import (
	"context"

	"github.com/netmap-platform/netmap/internal/models"
)

// NodeFilter narrows ListNodes. Zero values match everything.
type NodeFilter struct {
	Type   models.NodeType
	Status models.NodeStatus
	IDs    []string
}

// LinkFilter narrows ListLinks. NodeID matches either endpoint.
type LinkFilter struct {
	Type   models.LinkType
	Status models.LinkStatus
	NodeID string
	IDs    []string
}

// ZoneFilter narrows ListZones.
type ZoneFilter struct {
	Status   models.ZoneStatus
	ZoneType string
	IDs      []string
}

// BindingFilter narrows ListBindings.
type BindingFilter struct {
	ZoneID string
	NodeID string
}

// Reader is the read side shared by repositories and transactions.
// Lists are ordered by id.
type Reader interface {
	GetNode(ctx context.Context, tenant, id string) (*models.Node, error)
	ListNodes(ctx context.Context, tenant string, f NodeFilter) ([]*models.Node, error)

	GetLink(ctx context.Context, tenant, id string) (*models.Link, error)
	ListLinks(ctx context.Context, tenant string, f LinkFilter) ([]*models.Link, error)

	GetZone(ctx context.Context, tenant, id string) (*models.Zone, error)
	ListZones(ctx context.Context, tenant string, f ZoneFilter) ([]*models.Zone, error)

	GetBinding(ctx context.Context, tenant, id string) (*models.Binding, error)
	ListBindings(ctx context.Context, tenant string, f BindingFilter) ([]*models.Binding, error)
}

// Tx is a write transaction confined to one tenant.
type Tx interface {
	Reader

	CreateNode(ctx context.Context, n *models.Node) error
	UpdateNode(ctx context.Context, n *models.Node) error
	DeleteNode(ctx context.Context, tenant, id string) error

	CreateLink(ctx context.Context, l *models.Link) error
	UpdateLink(ctx context.Context, l *models.Link) error
	DeleteLink(ctx context.Context, tenant, id string) error

	CreateZone(ctx context.Context, z *models.Zone) error
	UpdateZone(ctx context.Context, z *models.Zone) error
	DeleteZone(ctx context.Context, tenant, id string) error

	CreateBinding(ctx context.Context, b *models.Binding) error
	UpdateBinding(ctx context.Context, b *models.Binding) error
	DeleteBinding(ctx context.Context, tenant, id string) error

	Commit() error
	Rollback() error
}

// Repository is the authoritative topology store.
type Repository interface {
	Reader
	Begin(ctx context.Context, tenant string) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}
