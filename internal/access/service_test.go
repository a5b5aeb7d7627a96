package access

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/database"
	"github.com/iliyamo/qr-access/internal/media"
	"github.com/iliyamo/qr-access/internal/model"
	"github.com/iliyamo/qr-access/internal/repository"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Send(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	svc    *Service
	store  repository.Store
	clock  *clock
	events *recorder
	signer *media.Signer
}

var stores = map[string]func(t *testing.T) repository.Store{
	"memory": func(t *testing.T) repository.Store { return repository.NewMemoryStore() },
	"sqlite": func(t *testing.T) repository.Store {
		db, err := database.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, database.Migrate(context.Background(), db, repository.DialectSQLite))
		return repository.NewSQLStore(db, repository.DialectSQLite)
	},
}

func eachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
			rec := &recorder{}
			signer := media.NewSigner("media-secret", "https://media.example.com", 10*time.Minute)
			svc := NewService(store, audit.NewLogger(audit.NewHasher("k"), rec, zap.NewNop()),
				config.DefaultAccessPolicy(), zap.NewNop(), WithClock(c.Now), WithSigner(signer))
			fn(t, &fixture{svc: svc, store: store, clock: c, events: rec, signer: signer})
		})
	}
}

func (f *fixture) newQr(t *testing.T, token string, maxReactivations int) model.QrCode {
	t.Helper()
	qr := model.NewQrCode(token)
	qr.MaxReactivations = maxReactivations
	qr.CreatedAt = f.clock.Now()
	require.NoError(t, f.store.CreateQr(context.Background(), &qr))
	return qr
}

func (f *fixture) bindings(t *testing.T, qr model.QrCode) []model.QrBinding {
	t.Helper()
	out, err := f.store.ListBindings(context.Background(), qr.ID)
	require.NoError(t, err)
	return out
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	require.Error(t, err)
	k, ok := KindOf(err)
	require.True(t, ok, "expected *access.Error, got %v", err)
	return k
}

func device() string { return uuid.NewString() }

func TestValidateUnknownAndEmpty(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()

		for _, token := range []string{"", "   ", "NOPE"} {
			v, err := f.svc.Validate(ctx, token, audit.Source{})
			require.NoError(t, err)
			a.Equal(StatusInvalid, v.Status)
			a.False(v.CanReregister)
			a.False(v.PreviewAvailable)
			a.Nil(v.Product)
			a.Nil(v.CooldownUntil)
		}
	})
}

func TestValidateStatuses(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "NEW", 999)

		v, err := f.svc.Validate(ctx, " NEW ", audit.Source{})
		require.NoError(t, err)
		a.Equal(StatusNew, v.Status)
		a.Equal("NEW", v.Token)
		a.True(v.CanReregister)
		a.True(v.PreviewAvailable)

		_, err = f.svc.Register(ctx, RegisterRequest{Token: "NEW", DeviceID: device()})
		require.NoError(t, err)
		v, err = f.svc.Validate(ctx, "NEW", audit.Source{})
		require.NoError(t, err)
		a.Equal(StatusRegistered, v.Status)
		a.True(v.CanReregister)
	})
}

func TestBlockedNeverOffersPreviewOrReregister(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "BLK", 999)

		_, err := f.svc.Block(ctx, "BLK", audit.Source{})
		require.NoError(t, err)

		v, err := f.svc.Validate(ctx, "BLK", audit.Source{})
		require.NoError(t, err)
		a.Equal(StatusBlocked, v.Status)
		a.False(v.PreviewAvailable)
		a.False(v.CanReregister)

		_, err = f.svc.Register(ctx, RegisterRequest{Token: "BLK", DeviceID: device()})
		a.Equal(KindBlocked, kindOf(t, err))
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "BLK", DeviceID: device()})
		a.Equal(KindBlocked, kindOf(t, err))
		_, err = f.svc.Preview(ctx, "BLK")
		a.Equal(KindBlocked, kindOf(t, err))

		// blocking twice is fine
		_, err = f.svc.Block(ctx, "BLK", audit.Source{})
		a.NoError(err)
	})
}

func TestBlockedIgnoresCooldown(t *testing.T) {
	qr := model.NewQrCode("X")
	qr.Status = model.QrStatusBlocked
	now := time.Now()
	past := now.Add(-time.Hour)
	qr.CooldownUntil = &past

	v := buildValidation(qr, now)
	assert.False(t, v.CanReregister)
	assert.False(t, v.PreviewAvailable)
}

func TestValidationProduct(t *testing.T) {
	qr := model.NewQrCode("X")
	id, title := int64(7), "Moby Dick"
	qr.ProductID, qr.ProductTitle = &id, &title

	body, err := json.Marshal(buildValidation(qr, time.Now()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"new","can_reregister":true,"preview_available":true,
		"cooldown_until":null,"product":{"id":7,"title":"Moby Dick"},"token":"X"}`, string(body))
}

func TestRegisterRejections(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "T", 999)

		_, err := f.svc.Register(ctx, RegisterRequest{Token: " ", DeviceID: device()})
		a.Equal(KindInvalidInput, kindOf(t, err))
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: "not-a-uuid"})
		a.Equal(KindInvalidInput, kindOf(t, err))
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: device(), AccountID: "nope"})
		a.Equal(KindInvalidInput, kindOf(t, err))
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "MISSING", DeviceID: device()})
		a.Equal(KindNotFound, kindOf(t, err))

		a.Equal([]string{
			audit.RegisterInvalid,
			audit.RegisterInvalid,
			audit.RegisterInvalid,
			audit.RegisterNotFound,
		}, f.events.types())
	})
}

func TestRegisterIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "T", 999)
		dev := device()

		first, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: dev})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		second, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: dev})
		require.NoError(t, err)

		a.Equal(StatusRegistered, first.Status)
		a.Equal(first, second)
		a.Len(f.bindings(t, qr), 1)
		a.Equal([]string{audit.RegisterSuccess, audit.RegisterIdempotent}, f.events.types())

		// the registration time is not moved by the idempotent call
		stored, err := f.store.FindQrByToken(ctx, "T")
		require.NoError(t, err)
		require.NotNil(t, stored.RegisteredAt)
		a.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), stored.RegisteredAt.UTC())
	})
}

func TestRegisterIdempotentOverwritesAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "T", 999)
		dev, acc1, acc2 := device(), uuid.NewString(), uuid.NewString()

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: dev, AccountID: acc1})
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: dev, AccountID: acc2})
		require.NoError(t, err)

		bs := f.bindings(t, qr)
		require.Len(t, bs, 1)
		require.NotNil(t, bs[0].AccountID)
		a.Equal(acc2, *bs[0].AccountID)

		// no account supplied leaves it alone
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: dev})
		require.NoError(t, err)
		bs = f.bindings(t, qr)
		a.Equal(acc2, *bs[0].AccountID)
	})
}

func TestRegisterConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "T", 999)
		devA, devB := device(), device()

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: devA})
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: devB})
		a.Equal(KindDeviceConflict, kindOf(t, err))

		bs := f.bindings(t, qr)
		require.Len(t, bs, 1)
		a.Equal(devA, bs[0].DeviceID)
		a.True(bs[0].Active)
		a.Equal(audit.RegisterConflict, f.events.last().Type)
	})
}

func TestReregisterTransfersBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "T", 999)
		devA, devB, acc := device(), device(), uuid.NewString()

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: devA, AccountID: acc})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
		v, err := f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: devB})
		require.NoError(t, err)
		a.Equal(StatusRegistered, v.Status)
		a.True(v.CanReregister)

		bs := f.bindings(t, qr)
		require.Len(t, bs, 2)
		byDevice := map[string]model.QrBinding{bs[0].DeviceID: bs[0], bs[1].DeviceID: bs[1]}
		a.False(byDevice[devA].Active)
		require.NotNil(t, byDevice[devA].RevokedAt)
		a.Equal(f.clock.Now(), byDevice[devA].RevokedAt.UTC())
		a.True(byDevice[devB].Active)
		a.Nil(byDevice[devB].RevokedAt)
		// account continuity across the device swap
		require.NotNil(t, byDevice[devB].AccountID)
		a.Equal(acc, *byDevice[devB].AccountID)

		ev := f.events.last()
		a.Equal(audit.ReregisterSuccess, ev.Type)
		a.Equal(devB, ev.DeviceID)
		a.EqualValues(1, ev.Fields["recent_reactivations"])
		a.EqualValues(2, ev.Fields["total_bindings"])

		// moving to the device that already holds it is a no-op
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: devB})
		require.NoError(t, err)
		a.Len(f.bindings(t, qr), 2)
		a.Equal(audit.ReregisterIdempotent, f.events.last().Type)

		// a device keeps its single row, so going back is a conflict
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: devA})
		a.Equal(KindDeviceConflict, kindOf(t, err))
		a.Len(f.bindings(t, qr), 2)
	})
}

func TestReregisterWithoutActiveBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.newQr(t, "T", 999)

		_, err := f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		assert.Equal(t, KindNoActiveBinding, kindOf(t, err))
		assert.Equal(t, audit.ReregisterMissingBinding, f.events.last().Type)
	})
}

func TestReactivationCeiling(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "ZERO", 0)

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "ZERO", DeviceID: device()})
		require.NoError(t, err)
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "ZERO", DeviceID: device()})
		require.Error(t, err)
		a.Equal(KindMaxReactivations, kindOf(t, err))
		a.Contains(err.Error(), "maximum reactivations reached")
		a.Len(f.bindings(t, qr), 1)
		a.Equal(audit.ReregisterMaxReached, f.events.last().Type)

		// ceiling 2: total-1 >= 2 rejects once three rows exist
		f.newQr(t, "TWO", 2)
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "TWO", DeviceID: device()})
		require.NoError(t, err)
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "TWO", DeviceID: device()})
		require.NoError(t, err)
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "TWO", DeviceID: device()})
		require.NoError(t, err)
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "TWO", DeviceID: device()})
		a.Equal(KindMaxReactivations, kindOf(t, err))
	})
}

func TestFrequentReregistrationTriggersCooldown(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "T", 999)

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			f.clock.Advance(time.Minute)
			v, err := f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
			require.NoError(t, err)
			a.Nil(v.CooldownUntil, "three revocations stay under the threshold")
		}

		f.clock.Advance(time.Minute)
		v, err := f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		require.NoError(t, err)
		require.NotNil(t, v.CooldownUntil)
		a.Equal(f.clock.Now().Add(48*time.Hour), *v.CooldownUntil)
		a.False(v.CanReregister)

		v, err = f.svc.Validate(ctx, "T", audit.Source{})
		require.NoError(t, err)
		a.False(v.CanReregister)
		a.True(v.PreviewAvailable, "cooldown does not disable previews")
		a.Equal(StatusRegistered, v.Status)

		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		require.Error(t, err)
		a.Equal(KindCooldown, kindOf(t, err))
		var rej *Error
		require.ErrorAs(t, err, &rej)
		a.NotNil(rej.CooldownUntil)
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		a.Equal(KindCooldown, kindOf(t, err))
		a.Equal(audit.RegisterCooldown, f.events.last().Type)

		f.clock.Advance(48 * time.Hour)
		v, err = f.svc.Validate(ctx, "T", audit.Source{})
		require.NoError(t, err)
		a.True(v.CanReregister)

		v, err = f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		require.NoError(t, err)
		a.True(v.CanReregister, "old revocations fell out of the window")
	})
}

func TestConcurrentRegisterCreatesOneActiveBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		qr := f.newQr(t, "RACE", 999)

		const n = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Register(ctx, RegisterRequest{Token: "RACE", DeviceID: device()})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if k, _ := KindOf(err); k == KindDeviceConflict {
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)
		active := 0
		for _, b := range f.bindings(t, qr) {
			if b.Active {
				active++
			}
		}
		assert.Equal(t, 1, active)
	})
}

// racingStore lets the first device lookup of every unit wait until all
// expected units have made theirs, so each sees the device as missing.
type racingStore struct {
	repository.Store
	arrived sync.WaitGroup
}

func (s *racingStore) WithQrLocked(ctx context.Context, token string, fn func(tx repository.Tx, qr model.QrCode) error) error {
	return s.Store.WithQrLocked(ctx, token, func(tx repository.Tx, qr model.QrCode) error {
		return fn(&racingTx{Tx: tx, arrived: &s.arrived}, qr)
	})
}

type racingTx struct {
	repository.Tx
	arrived *sync.WaitGroup
	once    sync.Once
}

func (t *racingTx) GetDevice(ctx context.Context, deviceID string) (model.Device, error) {
	d, err := t.Tx.GetDevice(ctx, deviceID)
	t.once.Do(func() {
		t.arrived.Done()
		t.arrived.Wait()
	})
	return d, err
}

func TestSameDeviceOnTwoTokensConcurrently(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	store := &racingStore{Store: mem}
	store.arrived.Add(2)
	svc := NewService(store, audit.NewLogger(audit.NewHasher("k"), &recorder{}, zap.NewNop()),
		config.DefaultAccessPolicy(), zap.NewNop())

	qrs := map[string]model.QrCode{}
	for _, token := range []string{"A", "B"} {
		qr := model.NewQrCode(token)
		require.NoError(t, mem.CreateQr(ctx, &qr))
		qrs[token] = qr
	}

	dev, account := device(), uuid.NewString()
	errs := make(chan error, 2)
	for _, token := range []string{"A", "B"} {
		go func(token string) {
			_, err := svc.Register(ctx, RegisterRequest{Token: token, DeviceID: dev, AccountID: account})
			errs <- err
		}(token)
	}
	a.NoError(<-errs)
	a.NoError(<-errs)

	for token, qr := range qrs {
		bs, err := mem.ListBindings(ctx, qr.ID)
		require.NoError(t, err)
		require.Len(t, bs, 1, token)
		a.True(bs[0].Active, token)
		a.Equal(dev, bs[0].DeviceID, token)
	}
	require.NoError(t, mem.WithQrLocked(ctx, "A", func(tx repository.Tx, _ model.QrCode) error {
		d, err := tx.GetDevice(ctx, dev)
		require.NoError(t, err)
		require.NotNil(t, d.AccountID)
		a.Equal(account, *d.AccountID)
		return nil
	}))
}

func TestSameDeviceOnManyTokens(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		tokens := []string{"T1", "T2", "T3", "T4", "T5", "T6"}
		for _, token := range tokens {
			f.newQr(t, token, 999)
		}

		dev := device()
		var wg sync.WaitGroup
		errs := make(chan error, len(tokens))
		for _, token := range tokens {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				_, err := f.svc.Register(ctx, RegisterRequest{Token: token, DeviceID: dev})
				errs <- err
			}(token)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestConcurrentReregisterKeepsOneActiveBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		qr := f.newQr(t, "RACE", 999)
		_, err := f.svc.Register(ctx, RegisterRequest{Token: "RACE", DeviceID: device()})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.Reregister(ctx, RegisterRequest{Token: "RACE", DeviceID: device()})
			}()
		}
		wg.Wait()

		active := 0
		for _, b := range f.bindings(t, qr) {
			if b.Active {
				active++
			}
		}
		assert.Equal(t, 1, active)
	})
}

func TestAuditEventsCarryHashesOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.newQr(t, "SECRET-TOKEN", 999)
		src := audit.Source{IP: "198.51.100.23", UserAgent: "RawAgent/1.0", RequestID: "r-1"}
		devA := device()

		_, _ = f.svc.Validate(ctx, "SECRET-TOKEN", src)
		_, _ = f.svc.Register(ctx, RegisterRequest{Token: "SECRET-TOKEN", DeviceID: devA, Source: src})
		_, _ = f.svc.Register(ctx, RegisterRequest{Token: "SECRET-TOKEN", DeviceID: device(), Source: src})
		_, _ = f.svc.Reregister(ctx, RegisterRequest{Token: "SECRET-TOKEN", DeviceID: device(), Source: src})
		_, _ = f.svc.Register(ctx, RegisterRequest{Token: "", DeviceID: devA, Source: src})
		_, _ = f.svc.Register(ctx, RegisterRequest{Token: "SECRET-MISSING", DeviceID: devA, Source: src})

		body, err := json.Marshal(f.events.events)
		require.NoError(t, err)
		for _, raw := range []string{"SECRET-TOKEN", "SECRET-MISSING", src.IP, src.UserAgent} {
			assert.NotContains(t, string(body), raw)
		}
		for _, ev := range f.events.events {
			assert.Equal(t, "r-1", ev.RequestID)
			assert.NotEmpty(t, ev.IPHash)
		}
	})
}

func TestAdminResetAndDetail(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		qr := f.newQr(t, "T", 999)
		devA := device()

		_, err := f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: devA})
		require.NoError(t, err)
		_, err = f.svc.Reregister(ctx, RegisterRequest{Token: "T", DeviceID: device()})
		require.NoError(t, err)

		d, err := f.svc.Detail(ctx, "T")
		require.NoError(t, err)
		a.Len(d.Bindings, 2)
		a.Equal(StatusRegistered, d.Validation.Status)

		removed, err := f.svc.Reset(ctx, "T", audit.Source{})
		require.NoError(t, err)
		a.Equal(2, removed)
		a.Empty(f.bindings(t, qr))

		stored, err := f.store.FindQrByToken(ctx, "T")
		require.NoError(t, err)
		a.Equal(model.QrStatusNew, stored.Status)
		a.Nil(stored.RegisteredAt)
		a.Nil(stored.CooldownUntil)

		// the original device can register again
		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: devA})
		a.NoError(err)

		_, err = f.svc.Block(ctx, "T", audit.Source{})
		require.NoError(t, err)
		_, err = f.svc.Reset(ctx, "T", audit.Source{})
		a.Equal(KindBlocked, kindOf(t, err))

		_, err = f.svc.Reset(ctx, "MISSING", audit.Source{})
		a.Equal(KindNotFound, kindOf(t, err))
		_, err = f.svc.Detail(ctx, "MISSING")
		a.Equal(KindNotFound, kindOf(t, err))
	})
}

func TestPlaybackAndProgress(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "T", 999)
		holder, other := device(), device()

		_, err := f.svc.Authorize(ctx, "T", holder, audit.Source{})
		a.Equal(KindNotBound, kindOf(t, err))

		_, err = f.svc.Register(ctx, RegisterRequest{Token: "T", DeviceID: holder})
		require.NoError(t, err)

		pb, err := f.svc.Authorize(ctx, "T", holder, audit.Source{})
		require.NoError(t, err)
		a.NoError(f.signer.Verify(pb.URL, f.clock.Now()))
		a.Nil(pb.Resume)

		_, err = f.svc.Authorize(ctx, "T", other, audit.Source{})
		a.Equal(KindNotBound, kindOf(t, err))

		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: holder, TrackID: "ch-1", PositionMs: 1500})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: holder, TrackID: "ch-2", PositionMs: 42})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: holder, TrackID: "ch-1", PositionMs: 3000})
		require.NoError(t, err)

		pb, err = f.svc.Authorize(ctx, "T", holder, audit.Source{})
		require.NoError(t, err)
		require.NotNil(t, pb.Resume)
		a.Equal("ch-1", pb.Resume.TrackID)
		a.EqualValues(3000, pb.Resume.PositionMs)

		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: other, TrackID: "ch-1", PositionMs: 1})
		a.Equal(KindNotBound, kindOf(t, err))
		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: holder, TrackID: "", PositionMs: 1})
		a.Equal(KindInvalidInput, kindOf(t, err))
		err = f.svc.RecordProgress(ctx, ProgressUpdate{Token: "T", DeviceID: holder, TrackID: "x", PositionMs: -1})
		a.Equal(KindInvalidInput, kindOf(t, err))
	})
}

func TestPreview(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		a := assert.New(t)
		ctx := context.Background()
		f.newQr(t, "T", 999)

		p, err := f.svc.Preview(ctx, "T")
		require.NoError(t, err)
		a.Equal(Preview{Token: "T", DurationSeconds: 600, URL: "/preview/T.m3u8"}, p)

		_, err = f.svc.Preview(ctx, "MISSING")
		a.Equal(KindNotFound, kindOf(t, err))
		_, err = f.svc.Preview(ctx, "")
		a.Equal(KindInvalidInput, kindOf(t, err))
	})
}
