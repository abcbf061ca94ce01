package egl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ebitengine/purego"
)

// ErrMissingSymbols is returned when a required entry point is absent.
var ErrMissingSymbols = errors.New("egl: missing required symbols")

// symbol is one slot of a function table. fn points at a func variable that
// RegisterFunc fills in.
type symbol struct {
	name     string
	fn       any
	required bool
}

// lookupFunc resolves a symbol name to an address; 0 or an error means absent.
type lookupFunc func(name string) (uintptr, error)

func dlsymLookup(lib uintptr) lookupFunc {
	return func(name string) (uintptr, error) {
		return purego.Dlsym(lib, name)
	}
}

// loadSymbols resolves every slot before registering any, so a failed load
// leaves the table untouched. All missing required names are reported
// together. Missing optional slots are logged and left nil.
func loadSymbols(libName string, lookup lookupFunc, table []symbol) error {
	addrs := make([]uintptr, len(table))
	var missing []string
	for i, s := range table {
		addr, err := lookup(s.name)
		if err != nil || addr == 0 {
			if s.required {
				missing = append(missing, s.name)
				log.Error("dlsym failed", "lib", libName, "symbol", s.name, "err", err)
			} else {
				log.Warn("optional symbol not found", "lib", libName, "symbol", s.name)
			}
			continue
		}
		addrs[i] = addr
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w in %s: %s", ErrMissingSymbols, libName, strings.Join(missing, ", "))
	}

	for i, s := range table {
		if addrs[i] != 0 {
			purego.RegisterFunc(s.fn, addrs[i])
		}
	}
	return nil
}

func openLibrary(name string) (uintptr, error) {
	lib, err := purego.Dlopen(name, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return 0, fmt.Errorf("dlopen %s: %w", name, err)
	}
	return lib, nil
}
