package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/datastore/domain/repository"
	apperrors "docgateway/internal/shared/errors"
)

const (
	// MaxTenantIDLength bounds tenant identifiers.
	MaxTenantIDLength = 64
	// MaxNamespaceLength bounds "<database>.<collection>".
	MaxNamespaceLength = 120

	DefaultCollectionPrefix    = "fh"
	DefaultCollectionSeparator = "_"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Namespace is where a tenant's logical collection physically lives.
type Namespace struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
	Logical    string `json:"logical"`
	Shared     bool   `json:"shared"`
}

func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// NamespaceResolver maps (tenant, logical collection) pairs onto physical
// databases and collections, and hands out stores for them.
type NamespaceResolver struct {
	provider       repository.StoreProvider
	sharedDatabase string
	prefix         string
	separator      string
}

// NewNamespaceResolver creates a resolver. Empty prefix or separator fall back to defaults.
func NewNamespaceResolver(provider repository.StoreProvider, sharedDatabase, prefix, separator string) *NamespaceResolver {
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	if separator == "" {
		separator = DefaultCollectionSeparator
	}
	return &NamespaceResolver{
		provider:       provider,
		sharedDatabase: sharedDatabase,
		prefix:         prefix,
		separator:      separator,
	}
}

// ValidateTenantID checks a tenant identifier.
func ValidateTenantID(id string) error {
	switch {
	case id == "":
		return apperrors.NewValidationError("tenant id is required")
	case len(id) > MaxTenantIDLength:
		return apperrors.NewValidationError(fmt.Sprintf("tenant id exceeds %d characters", MaxTenantIDLength))
	case !tenantIDPattern.MatchString(id):
		return apperrors.NewValidationError("tenant id may only contain letters, digits, '_' and '-'").
			WithDetail("tenantId", id)
	}
	return nil
}

// ValidateLogicalName checks a logical collection name.
func ValidateLogicalName(name string) error {
	switch {
	case name == "":
		return apperrors.NewValidationError("collection type is required")
	case strings.ContainsAny(name, "$\x00"):
		return apperrors.NewValidationError("collection type must not contain '$' or NUL").WithDetail("type", name)
	case strings.HasPrefix(name, "system."):
		return apperrors.NewValidationError("collection type must not start with 'system.'").WithDetail("type", name)
	}
	return nil
}

// ValidateTenant checks tenant for this resolver. In the shared database a
// tenant id must not contain the collection separator, otherwise two tenants
// could derive the same collection name.
func (r *NamespaceResolver) ValidateTenant(tenant model.TenantContext) error {
	if err := ValidateTenantID(tenant.TenantID); err != nil {
		return err
	}
	if !tenant.PerAppDatabase && strings.Contains(tenant.TenantID, r.separator) {
		return apperrors.NewValidationError(fmt.Sprintf("tenant id must not contain %q in the shared database", r.separator)).
			WithDetail("tenantId", tenant.TenantID)
	}
	return nil
}

// DatabaseFor returns the physical database holding tenant's data.
func (r *NamespaceResolver) DatabaseFor(tenant model.TenantContext) string {
	if tenant.PerAppDatabase {
		return tenant.TenantID
	}
	return r.sharedDatabase
}

// tenantPrefix is the collection name prefix of tenant in the shared database.
func (r *NamespaceResolver) tenantPrefix(tenantID string) string {
	return r.prefix + r.separator + tenantID + r.separator
}

// Resolve derives the namespace without touching the store.
func (r *NamespaceResolver) Resolve(_ context.Context, tenant model.TenantContext, logical string) (Namespace, error) {
	if err := r.ValidateTenant(tenant); err != nil {
		return Namespace{}, err
	}
	if err := ValidateLogicalName(logical); err != nil {
		return Namespace{}, err
	}

	ns := Namespace{
		Database:   r.DatabaseFor(tenant),
		Collection: logical,
		Logical:    logical,
		Shared:     !tenant.PerAppDatabase,
	}
	if ns.Shared {
		ns.Collection = r.tenantPrefix(tenant.TenantID) + logical
	}

	if len(ns.Database)+1+len(ns.Collection) > MaxNamespaceLength {
		return Namespace{}, apperrors.NewValidationError("oversized logical name").
			WithDetail("namespace", ns.String()).
			WithDetail("max", MaxNamespaceLength)
	}
	return ns, nil
}

// Store acquires the ready store for tenant's physical database.
func (r *NamespaceResolver) Store(ctx context.Context, tenant model.TenantContext) (repository.DocumentStore, error) {
	if err := r.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return r.provider.Acquire(ctx, r.DatabaseFor(tenant))
}

// Open resolves the namespace and acquires its store.
func (r *NamespaceResolver) Open(ctx context.Context, tenant model.TenantContext, logical string) (repository.DocumentStore, Namespace, error) {
	ns, err := r.Resolve(ctx, tenant, logical)
	if err != nil {
		return nil, Namespace{}, err
	}
	store, err := r.provider.Acquire(ctx, ns.Database)
	if err != nil {
		return nil, Namespace{}, err
	}
	return store, ns, nil
}

// TenantCollections lists tenant's logical collection names, sorted.
func (r *NamespaceResolver) TenantCollections(ctx context.Context, tenant model.TenantContext) ([]string, error) {
	store, err := r.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}
	names, err := store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	prefix := r.tenantPrefix(tenant.TenantID)
	logical := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		if tenant.PerAppDatabase {
			logical = append(logical, name)
			continue
		}
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			logical = append(logical, strings.TrimPrefix(name, prefix))
		}
	}
	sort.Strings(logical)
	return logical, nil
}

// Release closes the connection to tenant's physical database. In shared
// mode this closes the connection every shared tenant uses; it is reopened
// lazily by the next action.
func (r *NamespaceResolver) Release(ctx context.Context, tenant model.TenantContext) error {
	if err := r.ValidateTenant(tenant); err != nil {
		return err
	}
	return r.provider.Release(ctx, r.DatabaseFor(tenant))
}
