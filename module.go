package tinyscript

import (
	"fmt"
	"os"
	"path/filepath"
)

// ModuleSourceProvider is the abstract "module source provider"
// interface spec §1 calls out as an external collaborator: resolving
// an import path relative to a parent module's path, and reading its
// content. The VM/compiler never touches the filesystem directly.
type ModuleSourceProvider interface {
	ResolvePath(importPath, parentPath string) (string, error)
	ReadSource(path string) ([]byte, error)
}

// FileModuleLoader reads modules from the local filesystem, resolving
// `#import "./foo"` relative to the importing module's directory
// (spec §4.2 directives).
type FileModuleLoader struct{}

func NewFileModuleLoader() *FileModuleLoader { return &FileModuleLoader{} }

func (FileModuleLoader) ResolvePath(importPath, parentPath string) (string, error) {
	return resolveRelativePath(importPath, parentPath)
}

func (FileModuleLoader) ReadSource(path string) ([]byte, error) { return os.ReadFile(path) }

// InMemoryModuleLoader serves module sources from a map, used by
// tests and by embedding hosts that don't want filesystem access.
type InMemoryModuleLoader struct{ files map[string][]byte }

func NewInMemoryModuleLoader() *InMemoryModuleLoader {
	return &InMemoryModuleLoader{files: map[string][]byte{}}
}

func (l *InMemoryModuleLoader) Add(path string, content []byte) { l.files[path] = content }

func (l *InMemoryModuleLoader) ResolvePath(importPath, parentPath string) (string, error) {
	return resolveRelativePath(importPath, parentPath)
}

func (l *InMemoryModuleLoader) ReadSource(path string) ([]byte, error) {
	b, ok := l.files[path]
	if !ok {
		return nil, fmt.Errorf("import not found: %s", path)
	}
	return b, nil
}

func resolveRelativePath(importPath, parentPath string) (string, error) {
	if importPath == parentPath {
		return importPath, nil
	}
	if len(importPath) < 3 || importPath[:2] != "./" {
		return "", fmt.Errorf("import path must be relative to the importing module: %s", importPath)
	}
	return filepath.Join(filepath.Dir(parentPath), importPath[2:]), nil
}

// Module is a named, independently parsed and compiled unit of source
// (spec §3). Its local path is immutable once created; modules are
// created by the parser on first mention (explicit add or #import).
type Module struct {
	Index int

	LocalPath string
	Name      string
	Source    []byte
	Lines     *LineIndex

	Parsed   bool
	Compiled bool

	References []int // indices of modules this one #imports, in source order

	AST              []Expr
	CompileTimeBlock []*OnCompileDirective

	// ExtraInit holds statements injected by a #on_compile block's
	// add_expr_to_module extern (spec §4.9), appended here instead of
	// AST since they are module-init statements, not declarations. Run
	// in order, after this module's global initializers, by the next
	// compile pass.
	ExtraInit []Expr

	Globals   []*VarDecl
	Functions []*FuncDecl

	// Types is a per-module type-tag map. It is created empty and
	// nothing fills it: struct tags are interned process-wide by the
	// registry (nominal equality, spec §3 invariant), and the
	// "undefined struct" check runs over the whole registry.
	Types map[string]*Type

	StartPC int
	EndPC   int
}

func newModule(index int, localPath string) *Module {
	return &Module{
		Index:     index,
		LocalPath: localPath,
		Name:      filepath.Base(localPath),
		Types:     map[string]*Type{},
	}
}

// ModuleRegistry owns every Module in a compilation, keyed by local
// path so re-parsing an already-loaded module returns the existing
// index instead of re-parsing (spec §5).
type ModuleRegistry struct {
	loader  ModuleSourceProvider
	modules []*Module
	byPath  map[string]int

	// structTags interns struct/union Type tags by name so that
	// nominal equality also holds by pointer identity process-wide
	// (spec §3 invariant).
	structTags map[string]*Type
}

func NewModuleRegistry(loader ModuleSourceProvider) *ModuleRegistry {
	return &ModuleRegistry{
		loader:     loader,
		byPath:     map[string]int{},
		structTags: map[string]*Type{},
	}
}

func (r *ModuleRegistry) Modules() []*Module { return r.modules }

func (r *ModuleRegistry) Module(i int) *Module { return r.modules[i] }

// Get returns the index of an already-registered module by path, or
// (-1, false).
func (r *ModuleRegistry) Get(path string) (int, bool) {
	i, ok := r.byPath[path]
	if !ok {
		return -1, false
	}
	return i, true
}

// AddSource registers a module directly from in-memory source (used
// for the top-level script passed to ParseCode, and by #on_compile
// externs that synthesize modules). If a module with this path is
// already registered, its existing index is returned and no new
// module is created (spec §5 "On re-parse of an already-loaded
// module... the registry returns the existing index").
func (r *ModuleRegistry) AddSource(path string, src []byte) *Module {
	if i, ok := r.byPath[path]; ok {
		return r.modules[i]
	}
	idx := len(r.modules)
	m := newModule(idx, path)
	m.Source = src
	m.Lines = NewLineIndex(path, src)
	r.modules = append(r.modules, m)
	r.byPath[path] = idx
	return m
}

// Load resolves an import path relative to parentPath, reads it
// through the registry's loader, and registers it (or returns the
// existing module if already loaded).
func (r *ModuleRegistry) Load(importPath, parentPath string) (*Module, error) {
	path, err := r.loader.ResolvePath(importPath, parentPath)
	if err != nil {
		return nil, err
	}
	if i, ok := r.byPath[path]; ok {
		return r.modules[i], nil
	}
	src, err := r.loader.ReadSource(path)
	if err != nil {
		return nil, err
	}
	return r.AddSource(path, src), nil
}

// StructTag interns a struct/union type tag by name, creating an
// undefined placeholder the first time a name is seen in a type
// position, matching `parse_type_tag`'s lazy-creation rule (spec
// §4.3).
func (r *ModuleRegistry) StructTag(name string) *Type {
	if t, ok := r.structTags[name]; ok {
		return t
	}
	t := NewUndefinedStruct(name)
	r.structTags[name] = t
	return t
}

// AllStructTags returns every interned struct/union tag, used by the
// "every tag remains undefined is a compile error" post-parse check
// (spec §4.3).
func (r *ModuleRegistry) AllStructTags() []*Type {
	out := make([]*Type, 0, len(r.structTags))
	for _, t := range r.structTags {
		out = append(out, t)
	}
	return out
}

// CheckAllTagsDefined fails compilation if any interned struct tag
// remains undefined (spec §4.3).
func (r *ModuleRegistry) CheckAllTagsDefined() error {
	for name, t := range r.structTags {
		if !t.Defined {
			return TypeError{Message: "struct `" + name + "` is referenced but never defined"}
		}
	}
	return nil
}

// FinalizeAllStructs flattens `using` clauses for every interned
// struct tag (spec §4.3).
func (r *ModuleRegistry) FinalizeAllStructs() error {
	for _, t := range r.structTags {
		if err := t.FinalizeStruct(); err != nil {
			return err
		}
	}
	return nil
}

// DependencyOrder returns module indices such that every module
// appears after all modules it (transitively) references (spec §4.8:
// "referenced modules first").
func (r *ModuleRegistry) DependencyOrder() []int {
	visited := make([]bool, len(r.modules))
	var order []int
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, dep := range r.modules[i].References {
			visit(dep)
		}
		order = append(order, i)
	}
	for i := range r.modules {
		visit(i)
	}
	return order
}
