package packs

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func seedMyPack(m *memStore) {
	m.addPack(&Pack{ID: "p-1", Ref: "mypack", Name: "mypack"})
	m.schemas["mypack"] = &ConfigSchema{ID: "cs-1", Pack: "mypack"}
	m.addEntity(&Entity{ID: "sensor-1", Kind: KindSensorType, Ref: "mypack.watcher", Pack: "mypack"})
	for i := 1; i <= 2; i++ {
		m.addEntity(&Entity{ID: entityID(KindAction, i), Kind: KindAction, Pack: "mypack"})
	}
	for i := 1; i <= 3; i++ {
		triggerRef := "core." + entityID(KindTrigger, i)
		m.addEntity(&Entity{ID: entityID(KindRule, i), Kind: KindRule, Pack: "mypack", Trigger: triggerRef})
		// auto-generated triggers belong to the trigger type's pack, not to mypack
		m.addEntity(&Entity{
			ID:   entityID(KindTrigger, i),
			Kind: KindTrigger,
			Ref:  triggerRef,
			Pack: "core",
			Data: map[string]any{"parameters": map[string]any{"delta": i}},
		})
	}
}

func TestDeregisterCascade(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.addPack(&Pack{ID: "p-2", Ref: "other", Name: "other"})
	m.addEntity(&Entity{ID: "other-action", Kind: KindAction, Pack: "other"})

	report, err := m.engine(NewProtectedSet(DefaultProtectedPacks...)).Deregister(context.Background(), []string{"mypack"})
	if err != nil {
		t.Fatalf("deregister: %v", err)
	}

	want := []string{
		"delete:sensor_types:sensor-1",
		"delete:actions:actions-1",
		"delete:actions:actions-2",
		"delete:rules:rules-1",
		"cleanup:triggers:triggers-1",
		"delete:rules:rules-2",
		"cleanup:triggers:triggers-2",
		"delete:rules:rules-3",
		"cleanup:triggers:triggers-3",
		"delete:pack:mypack",
		"delete:config_schema:mypack",
	}
	if !reflect.DeepEqual(m.journal, want) {
		t.Fatalf("unexpected mutation order:\n got %v\nwant %v", m.journal, want)
	}
	for _, kind := range CascadeOrder {
		if n := m.count(kind, "mypack"); n != 0 {
			t.Fatalf("expected no %s left for mypack, got %d", kind, n)
		}
	}
	if len(m.entities[KindTrigger]) != 0 {
		t.Fatalf("expected auto-generated triggers removed, got %d", len(m.entities[KindTrigger]))
	}
	if m.count(KindAction, "other") != 1 {
		t.Fatalf("expected other pack untouched")
	}
	if len(report.Packs) != 1 {
		t.Fatalf("expected one pack report, got %d", len(report.Packs))
	}
	pr := report.Packs[0]
	if !pr.PackDeleted || !pr.ConfigSchemaDeleted {
		t.Fatalf("expected primary records deleted: %+v", pr)
	}
	if len(pr.Deleted(KindRule)) != 3 || len(pr.Deleted(KindAction)) != 2 || len(pr.Deleted(KindSensorType)) != 1 {
		t.Fatalf("unexpected deleted counts: %+v", pr.Entities)
	}
}

func TestDeregisterKeepsSharedTrigger(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.addEntity(&Entity{ID: "foreign-rule", Kind: KindRule, Pack: "other", Trigger: "core.triggers-1"})

	if _, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"mypack"}); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if len(m.entities[KindTrigger]) != 1 || m.entities[KindTrigger][0].ID != "triggers-1" {
		t.Fatalf("expected shared trigger kept, got %+v", m.entities[KindTrigger])
	}
}

func TestDeregisterProtectedPack(t *testing.T) {
	m := newMemStore()
	m.addPack(&Pack{ID: "p-core", Ref: "core", Name: "core"})
	m.addEntity(&Entity{ID: "core-action", Kind: KindAction, Pack: "core"})
	seedMyPack(m)

	_, err := m.engine(NewProtectedSet(DefaultProtectedPacks...)).Deregister(context.Background(), []string{"mypack", "core", "linux", "core"})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation, got %v", err)
	}
	var opErr *InvalidOperationError
	if !errors.As(err, &opErr) || !reflect.DeepEqual(opErr.Packs, []string{"core", "linux"}) {
		t.Fatalf("expected every protected pack named, got %v", err)
	}
	if !strings.Contains(err.Error(), "core, linux") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if len(m.journal) != 0 {
		t.Fatalf("expected no deletions, got %v", m.journal)
	}
	if m.count(KindAction, "core") != 1 || m.packs["p-core"] == nil {
		t.Fatalf("expected core intact")
	}
}

func TestDeregisterDependentFailureIsolated(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.failDelete["actions-1"] = errBoom

	report, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"mypack"})
	if err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if m.count(KindAction, "mypack") != 1 {
		t.Fatalf("expected only the failing action left")
	}
	if m.count(KindRule, "mypack") != 0 || m.count(KindSensorType, "mypack") != 0 {
		t.Fatalf("expected other kinds removed")
	}
	if _, ok := m.packs["p-1"]; ok {
		t.Fatalf("expected pack record removed")
	}
	if _, ok := m.schemas["mypack"]; ok {
		t.Fatalf("expected config schema removed")
	}
	failed := report.Packs[0].Failed(KindAction)
	if len(failed) != 1 || failed[0].ID != "actions-1" || failed[0].Error != "boom" {
		t.Fatalf("expected failed outcome recorded, got %+v", failed)
	}
}

func TestDeregisterPrimaryDeleteFailureStops(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.addPack(&Pack{ID: "p-2", Ref: "second", Name: "second"})
	m.addEntity(&Entity{ID: "second-action", Kind: KindAction, Pack: "second"})
	m.failPackDel = errBoom

	report, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"mypack", "second"})
	var primary *PrimaryDeleteError
	if !errors.As(err, &primary) {
		t.Fatalf("expected primary delete error, got %v", err)
	}
	if primary.Kind != KindPack || primary.Name != "mypack" || primary.ID != "p-1" {
		t.Fatalf("unexpected primary error: %+v", primary)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected cause preserved")
	}
	if m.count(KindAction, "mypack") != 0 {
		t.Fatalf("expected dependent deletions to stay applied")
	}
	if _, ok := m.schemas["mypack"]; !ok {
		t.Fatalf("expected config schema untouched after pack delete failure")
	}
	if m.count(KindAction, "second") != 1 {
		t.Fatalf("expected second pack not processed")
	}
	if len(report.Packs) != 1 || report.Packs[0].Error == "" {
		t.Fatalf("expected failing report recorded, got %+v", report.Packs)
	}
}

func TestDeregisterConfigSchemaDeleteFailure(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.failSchemaDel = errBoom

	_, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"mypack"})
	var primary *PrimaryDeleteError
	if !errors.As(err, &primary) || primary.Kind != KindConfigSchema {
		t.Fatalf("expected config schema delete error, got %v", err)
	}
	if _, ok := m.packs["p-1"]; ok {
		t.Fatalf("expected pack record already removed")
	}
}

func TestDeregisterMissingRecordsAreNotFatal(t *testing.T) {
	m := newMemStore()
	m.addEntity(&Entity{ID: "orphan", Kind: KindAction, Pack: "ghost"})

	report, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"ghost"})
	if err != nil {
		t.Fatalf("deregister: %v", err)
	}
	pr := report.Packs[0]
	if pr.PackDeleted || pr.ConfigSchemaDeleted {
		t.Fatalf("expected nothing to delete at record level: %+v", pr)
	}
	if m.count(KindAction, "ghost") != 0 {
		t.Fatalf("expected content-only cleanup to remove entities")
	}
}

func TestDeregisterListFailureIsFatal(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	m.failList[KindAction] = errBoom

	_, err := m.engine(NewProtectedSet()).Deregister(context.Background(), []string{"mypack"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected list error, got %v", err)
	}
	if _, ok := m.packs["p-1"]; !ok {
		t.Fatalf("expected pack record kept when content could not be listed")
	}
	if m.count(KindSensorType, "mypack") != 0 {
		t.Fatalf("expected earlier kinds already removed")
	}
}

func TestDeregisterUsesPackLock(t *testing.T) {
	m := newMemStore()
	seedMyPack(m)
	locker := &fakeLocker{held: map[string]bool{}}

	if _, err := m.engine(NewProtectedSet(), WithPackLocker(locker)).Deregister(context.Background(), []string{"mypack"}); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if !reflect.DeepEqual(locker.locked, []string{"mypack", "released:mypack"}) {
		t.Fatalf("unexpected lock calls: %v", locker.locked)
	}

	m2 := newMemStore()
	seedMyPack(m2)
	held := &fakeLocker{held: map[string]bool{"mypack": true}}
	_, err := m2.engine(NewProtectedSet(), WithPackLocker(held)).Deregister(context.Background(), []string{"mypack"})
	if !errors.Is(err, ErrPackLocked) {
		t.Fatalf("expected lock error, got %v", err)
	}
	if len(m2.journal) != 0 {
		t.Fatalf("expected no deletions while locked, got %v", m2.journal)
	}
}

func TestProtectedSet(t *testing.T) {
	set := NewProtectedSet("core", " packs ", "")
	if !set.Contains("packs") || set.Contains("") {
		t.Fatalf("unexpected membership")
	}
	if got := set.Intersect([]string{"x", "packs", "core", "packs"}); !reflect.DeepEqual(got, []string{"core", "packs"}) {
		t.Fatalf("unexpected intersection: %v", got)
	}
	if got := set.Names(); !reflect.DeepEqual(got, []string{"core", "packs"}) {
		t.Fatalf("unexpected names: %v", got)
	}
}
