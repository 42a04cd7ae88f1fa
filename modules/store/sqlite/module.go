package sqlite

import (
	"context"
	"time"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/routing"
	"gopkg.in/yaml.v3"
)

// ServiceName is the AppContext service under which the open *DB is
// published.
const ServiceName = "store.sqlite"

const openTimeout = 30 * time.Second

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module opens the database during provisioning so that the stores are
// available to every module loaded after it.
type Module struct {
	config Config
	db     *DB
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ServiceName,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.Defaults(ctx.DataDir)

	openCtx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	db, err := Open(openCtx, m.config)
	if err != nil {
		return err
	}
	m.db = db
	ctx.RegisterService(ServiceName, db)
	ctx.RegisterService(routing.StoreService, db.Arms())
	ctx.RegisterService(quota.StoreService, db.Ledger())
	ctx.Logger.Info("sqlite store opened", "path", m.config.Path)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
