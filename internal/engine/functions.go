package engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// MatchFunc enumerates the value-matching functions a device specifier may
// invoke. The set is closed; unknown names are rejected when the specifier
// is parsed, never at match time.
type MatchFunc int

const (
	FuncExact MatchFunc = iota
	FuncRegex
	FuncIncludes
	FuncExcludes
)

func (f MatchFunc) String() string {
	switch f {
	case FuncExact:
		return "exact"
	case FuncRegex:
		return "regex"
	case FuncIncludes:
		return "includes"
	case FuncExcludes:
		return "excludes"
	}
	return fmt.Sprintf("MatchFunc(%d)", int(f))
}

// Match applies the function with its configured argument to an observed
// value. An unparseable regex argument never matches and is logged once per
// call site at debug level.
func (f MatchFunc) Match(arg, value string) bool {
	switch f {
	case FuncExact:
		return arg == value
	case FuncRegex:
		matched, err := regexp.MatchString("^(?:"+arg+")", value)
		if err != nil {
			slog.Debug("Invalid regex argument in device specifier", "arg", arg, "error", err)
			return false
		}
		return matched
	case FuncIncludes:
		return strings.Contains(value, arg)
	case FuncExcludes:
		return !strings.Contains(value, arg)
	}
	return false
}

// funcCallRE recognizes the call syntax name('argument') or name("argument")
// embedded in specifier strings.
var funcCallRE = regexp.MustCompile(`^(\w+)\(['"](.+?)['"]\)$`)

// ParseMatchCall splits a specifier into its matching function and argument.
// Specifiers without call syntax default to an exact comparison of the whole
// string. A call to an unknown function name is an error.
func ParseMatchCall(spec string) (MatchFunc, string, error) {
	groups := funcCallRE.FindStringSubmatch(spec)
	if groups == nil {
		return FuncExact, spec, nil
	}
	name, arg := groups[1], groups[2]
	switch name {
	case "exact":
		return FuncExact, arg, nil
	case "regex":
		return FuncRegex, arg, nil
	case "includes":
		return FuncIncludes, arg, nil
	case "excludes":
		return FuncExcludes, arg, nil
	}
	return FuncExact, "", fmt.Errorf("unknown matching function %q", name)
}

// ParseResourceCall recognizes the same call syntax in attribute values,
// where the function names a resource pool operation and the argument names
// the pool. It returns ok=false for plain values.
func ParseResourceCall(value string) (op, pool string, ok bool) {
	groups := funcCallRE.FindStringSubmatch(value)
	if groups == nil {
		return "", "", false
	}
	return groups[1], groups[2], true
}
