package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/ledger"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "lotmatch"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("postgres://postgres:secret@%s:%s/lotmatch?sslmode=disable", host, port.Port())
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, dsn, nil); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	// Re-applying is a no-op.
	if err := ApplyMigrations(ctx, dsn, nil); err != nil {
		t.Fatalf("ApplyMigrations() second run error = %v", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := NewPostgresStore(dialCtx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer store.Close()

	record := testRecord(t, "btc-usdt")
	recordFill(t, record, ledger.SideBuy, "100", "2")
	recordFill(t, record, ledger.SideSell, "120", "1")

	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	loaded, err := store.LoadRecord(ctx, "btc-usdt")
	if err != nil {
		t.Fatalf("LoadRecord() error = %v", err)
	}
	if len(loaded.Positions()) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(loaded.Positions()))
	}
	net, ok := loaded.NetOpenPosition()
	if !ok || !net.Amount.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected net amount 1, got %+v ok=%v", net, ok)
	}

	stale := testRecord(t, "btc-usdt")
	recordFill(t, stale, ledger.SideBuy, "100", "1")
	if err := store.SaveRecord(ctx, stale); !errs.HasCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict for stale writer, got %v", err)
	}

	names, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(names) != 1 || names[0] != "btc-usdt" {
		t.Fatalf("expected [btc-usdt], got %v", names)
	}

	closed, err := store.RecentClosedPositions(ctx, "btc-usdt", 10)
	if err != nil {
		t.Fatalf("RecentClosedPositions() error = %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed row, got %d", len(closed))
	}
	if !closed[0].Amount.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected closed amount 1, got %s", closed[0].Amount)
	}
	if !closed[0].NetProfit.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected net profit 20, got %s", closed[0].NetProfit)
	}

	if err := store.DeleteRecord(ctx, "btc-usdt"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if _, err := store.LoadRecord(ctx, "btc-usdt"); !errs.HasCode(err, errs.CodeNotFound) {
		t.Fatalf("expected not_found after delete, got %v", err)
	}
}
