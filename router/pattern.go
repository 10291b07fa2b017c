// Package router implements the path-parameter mapper (spec §4.D), the
// request router (spec §4.E), and the response compression gate (spec
// §4.F) that sits between a matched handler and the client.
package router

import "strings"

// ParamType is the placeholder type recognized inside a route pattern.
type ParamType int

const (
	// TypeInt is the default placeholder type when `<name>` carries no
	// explicit type prefix.
	TypeInt ParamType = iota
	TypeStr
	// TypePath is terminal: it absorbs every remaining path segment and
	// must be the pattern's last segment.
	TypePath
)

func parseParamType(s string) ParamType {
	switch s {
	case "str":
		return TypeStr
	case "path":
		return TypePath
	default:
		return TypeInt
	}
}

// segment is one compiled element of a route pattern: either a literal
// string or a named placeholder.
type segment struct {
	literal   string
	isParam   bool
	paramName string
	paramType ParamType
}

// Pattern is the compiled form of a route pattern (spec §3 "Route parameter
// mapping"): stateless, built once at registration, then matched many times
// without allocation on the literal-only fast path.
type Pattern struct {
	raw         string
	segments    []segment
	nameToIndex map[string]int
	nameToType  map[string]ParamType
	hasPath     bool
	fastPath    bool // zero placeholders: direct string equality
}

// CompilePattern parses a route pattern of literal segments and
// `<name>`/`<type:name>` placeholders. A non-terminal `path` placeholder is
// a configuration error, since it would make matching for subsequent
// segments ambiguous (spec §3, §4.D).
func CompilePattern(pattern string) (*Pattern, error) {
	raw := pattern
	pattern = strings.TrimPrefix(pattern, "/")
	parts := strings.Split(pattern, "/")

	p := &Pattern{
		raw:         raw,
		nameToIndex: make(map[string]int),
		nameToType:  make(map[string]ParamType),
		fastPath:    true,
	}

	for i, part := range parts {
		if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
			inner := part[1 : len(part)-1]
			name := inner
			typ := TypeInt
			if idx := strings.Index(inner, ":"); idx >= 0 {
				typ = parseParamType(inner[:idx])
				name = inner[idx+1:]
			}
			if typ == TypePath && i != len(parts)-1 {
				return nil, &CompileError{Pattern: raw, Reason: "a `path` placeholder must be the last segment"}
			}
			p.segments = append(p.segments, segment{isParam: true, paramName: name, paramType: typ})
			p.nameToIndex[name] = i
			p.nameToType[name] = typ
			p.fastPath = false
			if typ == TypePath {
				p.hasPath = true
			}
		} else {
			p.segments = append(p.segments, segment{literal: part})
		}
	}
	return p, nil
}

// CompileError reports a pattern that fails compilation; callers treat it
// as a configuration error detected at registration time, never at
// request-match time (spec §3, §7).
type CompileError struct {
	Pattern string
	Reason  string
}

func (e *CompileError) Error() string {
	return "router: invalid pattern " + e.Pattern + ": " + e.Reason
}

// Match attempts to match path against the compiled pattern, returning the
// bound parameters on success. Patterns with zero placeholders use direct
// string equality and never split the path (spec §4.D fast path).
func (p *Pattern) Match(path string) (map[string]string, bool) {
	if p.fastPath {
		if path == p.raw || "/"+strings.TrimPrefix(path, "/") == p.raw {
			return map[string]string{}, true
		}
		return nil, false
	}

	reqParts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if !p.hasPath && len(reqParts) != len(p.segments) {
		return nil, false
	}
	if p.hasPath && len(reqParts) < len(p.segments) {
		return nil, false
	}

	params := make(map[string]string, len(p.nameToIndex))
	for i, seg := range p.segments {
		if i >= len(reqParts) {
			return nil, false
		}
		switch {
		case seg.paramType == TypePath:
			params[seg.paramName] = strings.Join(reqParts[i:], "/")
			return params, true
		case seg.isParam:
			params[seg.paramName] = reqParts[i]
		default:
			if reqParts[i] != seg.literal {
				return nil, false
			}
		}
	}
	return params, true
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }
