package repository

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/qr-access/internal/model"
)

// memoryStore keeps everything in process memory.  It backs tests and
// single-process deployments without a database.
type memoryStore struct {
	qrs      map[string]*model.QrCode // by token
	bindings map[string][]*model.QrBinding
	devices  map[string]*model.Device
	progress map[progressKey]model.ListeningProgress

	// tokenLocks serializes WithQrLocked per token.
	tokenLocks sync.Map

	sync.RWMutex
}

type progressKey struct {
	qrID, deviceID, trackID string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		qrs:      make(map[string]*model.QrCode),
		bindings: make(map[string][]*model.QrBinding),
		devices:  make(map[string]*model.Device),
		progress: make(map[progressKey]model.ListeningProgress),
	}
}

func (s *memoryStore) FindQrByToken(ctx context.Context, token string) (model.QrCode, error) {
	s.RLock()
	defer s.RUnlock()

	qr, ok := s.qrs[token]
	if !ok {
		return model.QrCode{}, ErrNotFound
	}
	return *qr, nil
}

func (s *memoryStore) ListBindings(ctx context.Context, qrID string) ([]model.QrBinding, error) {
	s.RLock()
	defer s.RUnlock()

	out := make([]model.QrBinding, 0, len(s.bindings[qrID]))
	for _, b := range s.bindings[qrID] {
		out = append(out, *b)
	}
	return out, nil
}

func (s *memoryStore) CreateQr(ctx context.Context, qr *model.QrCode) error {
	fillQrDefaults(qr)

	s.Lock()
	defer s.Unlock()

	if _, ok := s.qrs[qr.Token]; ok {
		return errors.Wrapf(ErrConflict, "qr token %q", qr.Token)
	}
	stored := *qr
	s.qrs[qr.Token] = &stored
	return nil
}

func (s *memoryStore) WithQrLocked(ctx context.Context, token string, fn func(tx Tx, qr model.QrCode) error) error {
	mu, _ := s.tokenLocks.LoadOrStore(token, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	qr, err := s.FindQrByToken(ctx, token)
	if err != nil {
		return err
	}
	tx := &memoryTx{s: s}
	if err := fn(tx, qr); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *memoryStore) UpsertProgress(ctx context.Context, p model.ListeningProgress) error {
	s.Lock()
	s.progress[progressKey{p.QrID, p.DeviceID, p.TrackID}] = p
	s.Unlock()

	return nil
}

func (s *memoryStore) LatestProgress(ctx context.Context, qrID, deviceID string) (model.ListeningProgress, error) {
	s.RLock()
	defer s.RUnlock()

	var (
		latest model.ListeningProgress
		found  bool
	)
	for k, p := range s.progress {
		if k.qrID != qrID || k.deviceID != deviceID {
			continue
		}
		if !found || p.UpdatedAt.After(latest.UpdatedAt) {
			latest, found = p, true
		}
	}
	if !found {
		return latest, ErrNotFound
	}
	return latest, nil
}

// memoryTx applies writes directly and records an undo step for each so
// a failed unit can be reverted.  The per-token lock held by WithQrLocked
// keeps other units for the same QR out while undo steps are pending.
type memoryTx struct {
	s    *memoryStore
	undo []func()
}

func (t *memoryTx) rollback() {
	t.s.Lock()
	defer t.s.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) ActiveBinding(ctx context.Context, qrID string) (model.QrBinding, error) {
	t.s.RLock()
	defer t.s.RUnlock()

	for _, b := range t.s.bindings[qrID] {
		if b.Active {
			return *b, nil
		}
	}
	return model.QrBinding{}, ErrNotFound
}

func (t *memoryTx) FindBinding(ctx context.Context, qrID, deviceID string) (model.QrBinding, error) {
	t.s.RLock()
	defer t.s.RUnlock()

	if b := t.s.findBinding(qrID, deviceID); b != nil {
		return *b, nil
	}
	return model.QrBinding{}, ErrNotFound
}

func (t *memoryTx) CountBindings(ctx context.Context, qrID string) (int, error) {
	t.s.RLock()
	defer t.s.RUnlock()

	return len(t.s.bindings[qrID]), nil
}

func (t *memoryTx) CountRevokedSince(ctx context.Context, qrID string, cutoff time.Time) (int, error) {
	t.s.RLock()
	defer t.s.RUnlock()

	n := 0
	for _, b := range t.s.bindings[qrID] {
		if b.RevokedAt != nil && !b.RevokedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) CreateBinding(ctx context.Context, b model.QrBinding) error {
	t.s.Lock()
	defer t.s.Unlock()

	if t.s.findBinding(b.QrID, b.DeviceID) != nil {
		return errors.Wrapf(ErrConflict, "binding %s/%s", b.QrID, b.DeviceID)
	}
	stored := b
	prev := t.s.bindings[b.QrID]
	t.s.bindings[b.QrID] = append(prev[:len(prev):len(prev)], &stored)
	t.undo = append(t.undo, func() { t.s.bindings[b.QrID] = prev })
	return nil
}

func (t *memoryTx) RevokeBinding(ctx context.Context, qrID, deviceID string, at time.Time) error {
	t.s.Lock()
	defer t.s.Unlock()

	b := t.s.findBinding(qrID, deviceID)
	if b == nil || !b.Active {
		return errors.Wrap(ErrNotFound, "revoke binding")
	}
	revoked := at
	b.Active, b.RevokedAt = false, &revoked
	t.undo = append(t.undo, func() { b.Active, b.RevokedAt = true, nil })
	return nil
}

func (t *memoryTx) SetBindingAccount(ctx context.Context, qrID, deviceID, accountID string) error {
	t.s.Lock()
	defer t.s.Unlock()

	b := t.s.findBinding(qrID, deviceID)
	if b == nil {
		return errors.Wrap(ErrNotFound, "set binding account")
	}
	prev := b.AccountID
	account := accountID
	b.AccountID = &account
	t.undo = append(t.undo, func() { b.AccountID = prev })
	return nil
}

func (t *memoryTx) DeleteBindings(ctx context.Context, qrID string) (int, error) {
	t.s.Lock()
	defer t.s.Unlock()

	prev := t.s.bindings[qrID]
	delete(t.s.bindings, qrID)
	t.undo = append(t.undo, func() { t.s.bindings[qrID] = prev })
	return len(prev), nil
}

func (t *memoryTx) GetDevice(ctx context.Context, deviceID string) (model.Device, error) {
	t.s.RLock()
	defer t.s.RUnlock()

	d, ok := t.s.devices[deviceID]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return *d, nil
}

func (t *memoryTx) CreateDevice(ctx context.Context, d model.Device) error {
	t.s.Lock()
	defer t.s.Unlock()

	if _, ok := t.s.devices[d.ID]; ok {
		return errors.Wrapf(ErrConflict, "device %s", d.ID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	stored := d
	t.s.devices[d.ID] = &stored
	t.undo = append(t.undo, func() {
		if !t.s.deviceReferenced(d.ID) {
			delete(t.s.devices, d.ID)
		}
	})
	return nil
}

func (t *memoryTx) SetDeviceAccount(ctx context.Context, deviceID, accountID string) error {
	t.s.Lock()
	defer t.s.Unlock()

	d, ok := t.s.devices[deviceID]
	if !ok {
		return nil
	}
	prev := d.AccountID
	account := accountID
	d.AccountID = &account
	t.undo = append(t.undo, func() { d.AccountID = prev })
	return nil
}

func (t *memoryTx) UpdateQr(ctx context.Context, qr model.QrCode) error {
	t.s.Lock()
	defer t.s.Unlock()

	stored, ok := t.s.qrs[qr.Token]
	if !ok || stored.ID != qr.ID {
		return errors.Wrap(ErrNotFound, "update qr")
	}
	prev := *stored
	stored.Status = qr.Status
	stored.RegisteredAt = qr.RegisteredAt
	stored.CooldownUntil = qr.CooldownUntil
	t.undo = append(t.undo, func() { *stored = prev })
	return nil
}

// findBinding expects the caller to hold the store lock.
func (s *memoryStore) findBinding(qrID, deviceID string) *model.QrBinding {
	for _, b := range s.bindings[qrID] {
		if b.DeviceID == deviceID {
			return b
		}
	}
	return nil
}

// deviceReferenced reports whether any binding of any QR points at
// deviceID.  Units on other tokens may have bound a device created by a
// unit that is rolling back.  The caller holds the store lock.
func (s *memoryStore) deviceReferenced(deviceID string) bool {
	for _, bs := range s.bindings {
		for _, b := range bs {
			if b.DeviceID == deviceID {
				return true
			}
		}
	}
	return false
}
