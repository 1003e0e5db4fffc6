package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"comms/internal/domain"
	"comms/internal/store"
)

const defaultTTL = 5 * time.Minute

// Templates is a read-through cache in front of a TemplateStore. Cache
// errors fall back to the store; they never fail a read.
type Templates struct {
	Next store.TemplateStore
	KV   KV
	TTL  time.Duration
}

var _ store.TemplateStore = (*Templates)(nil)

func (t *Templates) GetTemplateByKey(ctx context.Context, key string) (domain.Template, error) {
	var tpl domain.Template
	if t.load(ctx, "tpl:key:"+key, &tpl) {
		return tpl, nil
	}
	tpl, err := t.Next.GetTemplateByKey(ctx, key)
	if err != nil {
		return tpl, err
	}
	t.store(ctx, "tpl:key:"+key, tpl)
	return tpl, nil
}

func (t *Templates) ListTemplatesByEvent(ctx context.Context, eventType string) ([]domain.Template, error) {
	var tpls []domain.Template
	if t.load(ctx, "tpl:event:"+eventType, &tpls) {
		return tpls, nil
	}
	tpls, err := t.Next.ListTemplatesByEvent(ctx, eventType)
	if err != nil {
		return nil, err
	}
	t.store(ctx, "tpl:event:"+eventType, tpls)
	return tpls, nil
}

// SaveTemplate writes through and evicts the key lookup plus the event lists
// of both the new and the previously stored version.
func (t *Templates) SaveTemplate(ctx context.Context, tpl domain.Template) error {
	keys := []string{"tpl:key:" + tpl.Key, "tpl:event:" + tpl.EventType}
	prev, err := t.Next.GetTemplateByKey(ctx, tpl.Key)
	switch {
	case err == nil && prev.EventType != tpl.EventType:
		keys = append(keys, "tpl:event:"+prev.EventType)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.WarnContext(ctx, "previous template not loaded", "template", tpl.Key, "err", err)
	}

	if err := t.Next.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	if err := t.KV.Del(ctx, keys...); err != nil {
		slog.WarnContext(ctx, "template cache evict failed", "template", tpl.Key, "err", err)
	}
	return nil
}

func (t *Templates) load(ctx context.Context, key string, v any) bool {
	b, err := t.KV.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.WarnContext(ctx, "template cache read failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		slog.WarnContext(ctx, "template cache entry corrupt", "key", key, "err", err)
		return false
	}
	return true
}

func (t *Templates) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if err := t.KV.Set(ctx, key, b, ttl); err != nil {
		slog.WarnContext(ctx, "template cache write failed", "key", key, "err", err)
	}
}
