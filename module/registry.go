package module

import (
	"fmt"
	"plugin"

	"github.com/xmp3io/xmp3/log"
)

// Descriptor is the five-callback structure a loadable module must
// expose (spec §4.8/§6 "A loadable artifact must export a single
// symbol resolving to the five-callback structure"). New is called
// once at load time and must return the per-module instance handed to
// every other callback.
type Descriptor struct {
	New   func() interface{}
	Del   func(instance interface{})
	Conf  func(instance interface{}, key, value string) error
	Start func(instance interface{}, server interface{}) error
	Stop  func(instance interface{})
}

// Symbol is the well-known exported name the registry looks up in
// every plugin artifact.
const Symbol = "XMP3Module"

type loaded struct {
	name string
	desc *Descriptor
	inst interface{}
}

// Registry holds every loaded module, in load order, so Stop can tear
// them down in reverse.
type Registry struct {
	modules []*loaded
	byName  map[string]*loaded
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*loaded)}
}

// Load opens the shared object at path, resolves Symbol, and calls its
// New callback, storing the resulting instance under name. Go's
// stdlib plugin package is the only ergonomic dynamic-loading facility
// in the ecosystem — see DESIGN.md.
func (r *Registry) Load(path, name string) error {
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("module: %s already loaded", name)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("module: open %s: %w", path, err)
	}
	sym, err := p.Lookup(Symbol)
	if err != nil {
		return fmt.Errorf("module: lookup %s in %s: %w", Symbol, path, err)
	}
	desc, ok := sym.(*Descriptor)
	if !ok {
		return fmt.Errorf("module: %s does not export a *Descriptor", path)
	}
	if desc.New == nil {
		return fmt.Errorf("module: %s descriptor has no New callback", path)
	}
	entry := &loaded{name: name, desc: desc, inst: desc.New()}
	r.modules = append(r.modules, entry)
	r.byName[name] = entry
	return nil
}

// Config forwards a single key/value pair to the named module's Conf
// callback.
func (r *Registry) Config(name, key, value string) error {
	entry, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("module: %s not loaded", name)
	}
	if entry.desc.Conf == nil {
		return nil
	}
	return entry.desc.Conf(entry.inst, key, value)
}

// Start calls every loaded module's Start callback with server,
// aborting (and reporting which module failed) on the first error, per
// spec §4.8.
func (r *Registry) Start(server interface{}) error {
	for _, entry := range r.modules {
		if entry.desc.Start == nil {
			continue
		}
		if err := entry.desc.Start(entry.inst, server); err != nil {
			return fmt.Errorf("module: %s failed to start: %w", entry.name, err)
		}
		log.Infof("module: started %s", entry.name)
	}
	return nil
}

// Stop calls every module's Stop in reverse load order, then Del.
func (r *Registry) Stop() {
	for i := len(r.modules) - 1; i >= 0; i-- {
		entry := r.modules[i]
		if entry.desc.Stop != nil {
			entry.desc.Stop(entry.inst)
		}
		if entry.desc.Del != nil {
			entry.desc.Del(entry.inst)
		}
		log.Infof("module: stopped %s", entry.name)
	}
}
