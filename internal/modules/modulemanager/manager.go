// Package modulemanager wires feature modules into the server lifecycle.
// Modules self-register from init() and are migrated, initialized and routed
// in one pass at startup.
package modulemanager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/logger"
)

// Module is the lifecycle every feature module implements.
type Module interface {
	ID() string
	Name() string
	Core() bool
	Migrate(db *gorm.DB) error
	Init() error
}

// RouteRegistrar is implemented by modules that expose HTTP routes.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// Shutdowner is implemented by modules holding resources that need an
// orderly stop.
type Shutdowner interface {
	Shutdown()
}

// ModuleRegistry manages module registration and initialization.
type ModuleRegistry struct {
	modules     map[string]Module
	mu          sync.RWMutex
	initialized bool
}

// Registry is the global module registry.
var Registry = &ModuleRegistry{
	modules: make(map[string]Module),
}

// Register adds a module to the global registry.
func Register(m Module) {
	Registry.Register(m)
}

func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module %s (%s) registered after initialization", m.Name(), m.ID())
	}
	r.modules[m.ID()] = m
	logger.Info("module registered: %s (%s)", m.Name(), m.ID())
}

// LoadAll migrates and initializes every registered module, core modules
// first, in a stable order.
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module system already initialized")
		return nil
	}

	logger.Info("loading %d modules", len(r.modules))
	for _, module := range r.ordered() {
		if err := module.Migrate(db); err != nil {
			return fmt.Errorf("migrate %s: %w", module.Name(), err)
		}
		if err := module.Init(); err != nil {
			return fmt.Errorf("initialize %s: %w", module.Name(), err)
		}
		logger.Info("module loaded: %s", module.Name())
	}

	r.initialized = true
	return nil
}

// RegisterRoutes registers routes for all modules that expose them.
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, module := range r.ordered() {
		if registrar, ok := module.(RouteRegistrar); ok {
			registrar.RegisterRoutes(router)
		}
	}
}

// ShutdownAll stops modules in reverse load order.
func ShutdownAll() {
	Registry.ShutdownAll()
}

func (r *ModuleRegistry) ShutdownAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.ordered()
	for i := len(ordered) - 1; i >= 0; i-- {
		if stopper, ok := ordered[i].(Shutdowner); ok {
			stopper.Shutdown()
		}
	}
}

// GetModule returns a module by ID.
func GetModule(id string) (Module, bool) {
	return Registry.GetModule(id)
}

func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, exists := r.modules[id]
	return module, exists
}

// ordered returns core modules before optional ones, each group sorted by ID
// so load order is deterministic. Caller holds at least a read lock.
func (r *ModuleRegistry) ordered() []Module {
	modules := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Core() != modules[j].Core() {
			return modules[i].Core()
		}
		return modules[i].ID() < modules[j].ID()
	})
	return modules
}
