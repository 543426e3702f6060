package commands

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
	"github.com/vikashloomba/mcp-studio-go/pkg/configstore"
	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

// checkedStore surfaces save failures to the CLI, which the manager itself
// only logs.
type checkedStore struct {
	*configstore.FileStore

	mu  sync.Mutex
	err error
}

func (s *checkedStore) SaveAll(ctx context.Context, configs []mcpmgr.ServerConfig) error {
	err := s.FileStore.SaveAll(ctx, configs)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

func (s *checkedStore) lastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type runtimeOptions struct {
	autoConnect    bool
	metrics        *mcpmgr.Metrics
	tracerProvider trace.TracerProvider
	listChanged    func(serverID, feature string)
}

// newManager builds a Manager persisting to the configured store.
func newManager(ctx context.Context, cfg *config.Config, ro runtimeOptions) (*mcpmgr.Manager, *checkedStore) {
	logger := slog.Default()
	eventLog := mcpmgr.NewEventLog(logger)
	store := &checkedStore{FileStore: configstore.NewFileStore(cfg.Store.Path)}
	binder := mcpmgr.NewSDKBinder(&mcpmgr.SDKBinderOptions{
		ClientName:  cfg.Manager.ClientName,
		Log:         eventLog,
		LogJSONRPC:  cfg.Manager.LogJSONRPC,
		ListChanged: ro.listChanged,
	})
	m := mcpmgr.NewManager(ctx, binder, &mcpmgr.ManagerOptions{
		Store:          store,
		Log:            eventLog,
		Logger:         logger,
		Metrics:        ro.metrics,
		TracerProvider: ro.tracerProvider,
		ConnectTimeout: cfg.Manager.ConnectTimeout,
		CloseTimeout:   cfg.Manager.CloseTimeout,
		CallTimeout:    cfg.Manager.CallTimeout,
		AutoConnect:    ro.autoConnect,
	})
	return m, store
}
