package docservice

import (
	"context"
	"fmt"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/localstore"
)

// Types is a TypeSource over the local store. Type definitions are cached
// there so documents can still be created offline.
type Types struct {
	store *localstore.Store
}

// NewTypes creates a store-backed type source.
func NewTypes(store *localstore.Store) *Types {
	return &Types{store: store}
}

// Put caches a type definition.
func (t *Types) Put(ctx context.Context, typ *document.Type) error {
	if err := t.store.Set(ctx, localstore.TypeKey(typ.ID), typ); err != nil {
		return fmt.Errorf("docservice: cache type %s: %w", typ.ID, err)
	}
	return nil
}

// Type resolves a cached type definition by id.
func (t *Types) Type(ctx context.Context, id string) (*document.Type, error) {
	var typ document.Type
	ok, err := t.store.Get(ctx, localstore.TypeKey(id), &typ)
	if err != nil {
		return nil, fmt.Errorf("docservice: load type %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("docservice: %s: %w", id, apperr.ErrTypeNotFound)
	}
	return &typ, nil
}
