package core

import "strings"

// ModuleID is a dotted module identifier such as "provider.openai_compatible".
type ModuleID string

// Namespace returns everything before the last dot.
func (id ModuleID) Namespace() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Name returns the part after the last dot.
func (id ModuleID) Name() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is implemented by every registered module.
type Module interface {
	ModuleInfo() ModuleInfo
}
