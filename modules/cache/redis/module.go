package rediscache

import (
	"context"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/fastcache"
	"gopkg.in/yaml.v3"
)

// ServiceName is the AppContext service under which the *Cache is
// published.
const ServiceName = "cache.redis"

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module connects to Redis during provisioning.
type Module struct {
	config Config
	cache  *Cache
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
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.Defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	dialCtx, cancel := context.WithTimeout(context.Background(), 2*m.config.DialTimeout)
	defer cancel()

	c, err := New(dialCtx, m.config)
	if err != nil {
		return err
	}
	m.cache = c
	ctx.RegisterService(ServiceName, c)
	ctx.RegisterService(fastcache.Service, c)
	ctx.Logger.Info("redis cache connected", "addr", m.config.Addr)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Close()
}
