package app

import (
	"context"
	"log"

	"github.com/five82/clanhub/internal/backend"
	"github.com/five82/clanhub/internal/model"
)

// reauthStore retries a store call once after a 401, renewing the session
// in between. Any other error, or a failed renewal, is returned as is.
type reauthStore struct {
	backend.Store
	token   func() string
	refresh func(ctx context.Context, stale string) error
}

var _ backend.Store = reauthStore{}

func (s reauthStore) Select(ctx context.Context, q backend.Query) ([]model.Record, error) {
	var rows []model.Record
	err := s.retry(ctx, func() (err error) {
		rows, err = s.Store.Select(ctx, q)
		return err
	})
	return rows, err
}

func (s reauthStore) Insert(ctx context.Context, table model.Kind, rec model.Record) (model.Record, error) {
	var out model.Record
	err := s.retry(ctx, func() (err error) {
		out, err = s.Store.Insert(ctx, table, rec)
		return err
	})
	return out, err
}

func (s reauthStore) Update(ctx context.Context, table model.Kind, id string, fields model.Record) (model.Record, error) {
	var out model.Record
	err := s.retry(ctx, func() (err error) {
		out, err = s.Store.Update(ctx, table, id, fields)
		return err
	})
	return out, err
}

func (s reauthStore) Delete(ctx context.Context, table model.Kind, id string) error {
	return s.retry(ctx, func() error {
		return s.Store.Delete(ctx, table, id)
	})
}

func (s reauthStore) retry(ctx context.Context, call func() error) error {
	stale := s.token()
	err := call()
	if !backend.IsUnauthorized(err) {
		return err
	}
	if rerr := s.refresh(ctx, stale); rerr != nil {
		log.Printf("reauthorize after 401: %v", rerr)
		return err
	}
	return call()
}
