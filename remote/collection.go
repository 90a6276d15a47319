package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/unkn0wn-root/tabkeep/entity"
)

// Collection is one REST resource holding a user's entities:
//
//	GET    /{name}?userId=     list
//	POST   /{name}             create
//	PUT    /{name}/{id}        update
//	DELETE /{name}/{id}?userId= delete
type Collection[T entity.Entity] struct {
	c    *Client
	name string
}

func NewCollection[T entity.Entity](c *Client, name string) *Collection[T] {
	return &Collection[T]{c: c, name: name}
}

func (r *Collection[T]) Name() string { return r.name }

func (r *Collection[T]) List(ctx context.Context, userID string) ([]T, error) {
	var out []T
	if err := r.c.do(ctx, http.MethodGet, r.c.endpoint(user(userID), r.name), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Collection[T]) Create(ctx context.Context, userID string, v T) error {
	return r.c.do(ctx, http.MethodPost, r.c.endpoint(user(userID), r.name), v, nil)
}

func (r *Collection[T]) Update(ctx context.Context, userID string, v T) error {
	return r.c.do(ctx, http.MethodPut, r.c.endpoint(user(userID), r.name, v.EntityID()), v, nil)
}

func (r *Collection[T]) Delete(ctx context.Context, userID, id string) error {
	return r.c.do(ctx, http.MethodDelete, r.c.endpoint(user(userID), r.name, id), nil, nil)
}

func user(id string) url.Values { return url.Values{"userId": {id}} }
