package repo

import (
	"context"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/entity"
)

// Tokens holds the session credential. It is encrypted at rest whenever the
// store encrypts auth_token keys and is never sent to the sync API.
type Tokens struct {
	view tabkeep.Typed[entity.AuthToken]
}

func (t *Tokens) Get(ctx context.Context, userID string) (entity.AuthToken, bool, error) {
	return t.view.Get(ctx, entity.Key(entity.KindAuthToken, userID))
}

func (t *Tokens) Save(ctx context.Context, userID string, tok entity.AuthToken) error {
	if err := requireOwner(entity.KindAuthToken, userID); err != nil {
		return err
	}
	return t.view.Set(ctx, entity.Key(entity.KindAuthToken, userID), tok)
}

func (t *Tokens) Remove(ctx context.Context, userID string) error {
	return t.view.Remove(ctx, entity.Key(entity.KindAuthToken, userID))
}
