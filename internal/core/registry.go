package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ProviderNamespace holds upstream adapters. Its modules are never listed
// under modules: in the config; one instance is loaded per providers:
// entry with LoadInstance.
const ProviderNamespace = "provider"

// ProviderModuleID returns the module ID of the adapter for a providers:
// entry of the given type, e.g. "openai_compatible".
func ProviderModuleID(typ string) ModuleID {
	return ModuleID(ProviderNamespace + "." + typ)
}

// The registry is filled by init functions of compiled-in module packages
// (see the blank imports in cmd/sgate) and is read-only afterwards.
var (
	modules   = make(map[string]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule records a module's ModuleInfo. IDs must have the form
// "namespace.name". It panics on an invalid or duplicate ID, so a broken
// build fails at startup rather than at config load.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if info.ID.Namespace() == "" || info.ID.Name() == "" {
		panic(fmt.Sprintf("module %s: ID must be namespace.name", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	id := string(info.ID)
	if _, exists := modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	modules[id] = info
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[id]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	result := make([]ModuleInfo, 0, len(modules))
	for _, info := range modules {
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// ModuleNames returns the sorted names of the modules in namespace, e.g.
// the provider types compiled into the binary.
func ModuleNames(namespace string) []string {
	prefix := namespace + "."

	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var names []string
	for id := range modules {
		if name, ok := strings.CutPrefix(id, prefix); ok && !strings.Contains(name, ".") {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]ModuleInfo)
}
