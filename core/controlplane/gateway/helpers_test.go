package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/cordum-packs/core/infra/locks"
	"github.com/cordum/cordum-packs/core/infra/schema"
	"github.com/cordum/cordum-packs/core/infra/store"
	"github.com/cordum/cordum-packs/core/packs"
)

type fakeScheduler struct {
	reqs []packs.ExecutionRequest
	err  error
}

func (f *fakeScheduler) Schedule(_ context.Context, req packs.ExecutionRequest) (packs.ExecutionHandle, error) {
	if f.err != nil {
		return packs.ExecutionHandle{}, f.err
	}
	f.reqs = append(f.reqs, req)
	return packs.ExecutionHandle{ExecutionID: "exec-1"}, nil
}

type testEnv struct {
	store    *store.RedisStore
	schemas  *schema.Registry
	sched    *fakeScheduler
	locker   *locks.PackLocker
	regCalls []packs.ContentKind
	regFail  map[packs.ContentKind]error
	server   *httptest.Server
	client   *Client
}

func newTestEnv(t *testing.T, auth AuthProvider) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	env := &testEnv{
		store:   store.NewRedisStore(rc),
		schemas: schema.NewRegistry(rc),
		sched:   &fakeScheduler{},
		locker:  locks.NewPackLocker(locks.NewRedisStore(rc), 0),
		regFail: map[packs.ContentKind]error{},
	}
	registrars := map[packs.ContentKind]packs.Registrar{}
	for _, step := range packs.RegistrationSteps {
		kind := step.Kind
		registrars[kind] = packs.RegistrarFunc(func(context.Context, bool) (packs.RegistrationResult, error) {
			env.regCalls = append(env.regCalls, kind)
			if err := env.regFail[kind]; err != nil {
				return packs.RegistrationResult{}, err
			}
			return packs.RegistrationResult{Registered: []string{string(kind) + ".one"}}, nil
		})
	}
	engine := packs.NewEngine(store.Collections(env.store), env.store, env.schemas,
		packs.NewProtectedSet(packs.DefaultProtectedPacks...), packs.WithPackLocker(env.locker))

	srv := New(Deps{
		Catalog:     env.store,
		Lookup:      env.store,
		Registrar:   packs.NewOrchestrator(registrars),
		Deregistrar: engine,
		Dispatcher:  packs.NewDispatcher(env.sched, nil),
		Configs:     env.schemas,
		Auth:        auth,
	})
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	env.client = NewClient(env.server.URL, "")
	return env
}

func (e *testEnv) seedPack(t *testing.T, ref, name string) *packs.Pack {
	t.Helper()
	p := &packs.Pack{Ref: ref, Name: name}
	if err := e.store.SavePack(context.Background(), p); err != nil {
		t.Fatalf("seed pack: %v", err)
	}
	return p
}

func apiStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
