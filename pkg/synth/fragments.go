package synth

import (
	"fmt"
	"strings"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

const indentUnit = "    "

var starlarkKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true, "else": true,
	"for": true, "if": true, "in": true, "lambda": true, "load": true, "not": true,
	"or": true, "pass": true, "return": true, "while": true,
	"as": true, "assert": true, "async": true, "await": true, "class": true, "del": true,
	"except": true, "finally": true, "from": true, "global": true, "import": true,
	"is": true, "nonlocal": true, "raise": true, "try": true, "with": true, "yield": true,
	"None": true, "True": true, "False": true,
}

// Names used by the generated code that parameter variables must not shadow.
var reservedIdents = map[string]bool{
	"type": true, "len": true, "str": true, "int": true, "float": true, "bool": true,
	"list": true, "dict": true, "fail": true, "getattr": true, "hasattr": true,
	"print": true, "range": true, "struct": true, "json": true, "http": true, "package": true,
	"url": true, "query": true, "headers": true, "result": true, "response": true,
	"pkg": true, "item": true, "item_dict": true, "key": true, "params": true,
	"tool": true, "kwargs": true, "call_api": true,
	"API_NAME": true, "BASE_URL": true, "ENDPOINT_PATH": true, "HTTP_METHOD": true,
	"PACKAGE_NAME": true, "PARAMETERS_SCHEMA": true, "NAME": true,
}

type param struct {
	key   string
	ident string
	spec  capability.ParameterSpec
}

func newParams(schema *capability.ParameterSchema) []param {
	if schema == nil {
		return nil
	}
	used := make(map[string]bool, schema.Len())
	params := make([]param, 0, schema.Len())
	for pair := schema.Oldest(); pair != nil; pair = pair.Next() {
		ident := sanitize(pair.Key)
		if starlarkKeywords[ident] || reservedIdents[ident] {
			ident += "_"
		}
		for used[ident] {
			ident += "_"
		}
		used[ident] = true
		params = append(params, param{key: pair.Key, ident: ident, spec: pair.Value})
	}
	return params
}

// sanitize maps a name onto a Starlark identifier.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	ident := b.String()
	if ident == "" || ident[0] >= '0' && ident[0] <= '9' {
		ident = "_" + ident
	}
	return ident
}

// fieldIdent is used for keyword arguments naming fields of host types.
func fieldIdent(name string) string {
	ident := sanitize(name)
	if starlarkKeywords[ident] {
		ident += "_"
	}
	return ident
}

// attr renders attribute access, falling back to getattr for names that are not identifiers.
func attr(obj, name string) string {
	if sanitize(name) == name && !starlarkKeywords[name] {
		return obj + "." + name
	}
	return fmt.Sprintf("getattr(%s, %s)", obj, quote(name))
}

func defaultLiteral(spec capability.ParameterSpec) string {
	if !spec.HasDefault() {
		return "None"
	}
	return literal(spec.Default, "", true)
}

// signature puts required parameters without a default first, then defaulted ones,
// each group in declaration order.
func signature(params []param) string {
	var positional, defaulted []string
	for _, p := range params {
		if p.spec.Required && !p.spec.HasDefault() {
			positional = append(positional, p.ident)
			continue
		}
		defaulted = append(defaulted, p.ident+" = "+defaultLiteral(p.spec))
	}
	return strings.Join(append(positional, defaulted...), ", ")
}

func extraction(params []param) string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		lines = append(lines, fmt.Sprintf("%s%s = params.get(%s, %s)", indentUnit, p.ident, quote(p.key), defaultLiteral(p.spec)))
	}
	return strings.Join(lines, "\n")
}

func callArgs(params []param) string {
	args := make([]string, 0, len(params))
	for _, p := range params {
		args = append(args, p.ident+" = "+p.ident)
	}
	return strings.Join(args, ", ")
}

// validation emits checks for required parameters, chosen by type.
func validation(params []param) string {
	var b strings.Builder
	for _, p := range params {
		if !p.spec.Required {
			continue
		}
		v := p.ident
		fmt.Fprintf(&b, "%s# %s\n", indentUnit, commentText(p.key))
		fmt.Fprintf(&b, "%s%s = params.get(%s)\n", indentUnit, v, quote(p.key))

		switch p.spec.Type {
		case capability.TypeArray:
			fmt.Fprintf(&b, "%sif not %s or type(%s) != \"list\":\n", indentUnit, v, v)
			fmt.Fprintf(&b, "%s%sreturn False\n", indentUnit, indentUnit)
			if fields := p.spec.NestedFields(); len(fields) > 0 {
				fmt.Fprintf(&b, "%sfor item in %s:\n", indentUnit, v)
				fmt.Fprintf(&b, "%s%sif type(item) != \"dict\":\n", indentUnit, indentUnit)
				fmt.Fprintf(&b, "%s%s%sreturn False\n", indentUnit, indentUnit, indentUnit)
				fmt.Fprintf(&b, "%s%sfor key in %s:\n", indentUnit, indentUnit, stringList(fields))
				fmt.Fprintf(&b, "%s%s%sif key not in item:\n", indentUnit, indentUnit, indentUnit)
				fmt.Fprintf(&b, "%s%s%s%sreturn False\n", indentUnit, indentUnit, indentUnit, indentUnit)
			}
		case capability.TypeObject:
			fmt.Fprintf(&b, "%sif not %s or type(%s) != \"dict\":\n", indentUnit, v, v)
			fmt.Fprintf(&b, "%s%sreturn False\n", indentUnit, indentUnit)
		case capability.TypeString:
			fmt.Fprintf(&b, "%sif not %s or type(%s) != \"string\":\n", indentUnit, v, v)
			fmt.Fprintf(&b, "%s%sreturn False\n", indentUnit, indentUnit)
			if len(p.spec.Enum) > 0 {
				fmt.Fprintf(&b, "%sif %s not in %s:\n", indentUnit, v, literal(p.spec.Enum, "", true))
				fmt.Fprintf(&b, "%s%sreturn False\n", indentUnit, indentUnit)
			}
		default:
			fmt.Fprintf(&b, "%sif %s == None:\n", indentUnit, v)
			fmt.Fprintf(&b, "%s%sreturn False\n", indentUnit, indentUnit)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

type authSpec struct {
	ident  string
	key    string
	header bool
}

// resolveAuth binds an api_key authentication scheme to the parameter carrying the credential.
func resolveAuth(params []param, auth *capability.Authentication) *authSpec {
	if auth == nil {
		return nil
	}
	kind := strings.ReplaceAll(strings.ToLower(auth.Type), "-", "_")
	if kind != "api_key" && kind != "apikey" {
		return nil
	}
	key := auth.ParameterName
	if key == "" {
		key = "X-API-Key"
	}
	for _, candidate := range []string{auth.ParameterName, "api_key", "apikey"} {
		if candidate == "" {
			continue
		}
		for _, p := range params {
			if p.key == candidate {
				return &authSpec{
					ident:  p.ident,
					key:    key,
					header: auth.Location == "" || strings.EqualFold(auth.Location, "header"),
				}
			}
		}
	}
	return nil
}

func queryParams(params []param, auth *authSpec) string {
	lines := make([]string, 0, 2*len(params))
	for _, p := range params {
		if auth != nil && p.ident == auth.ident {
			continue
		}
		lines = append(lines,
			fmt.Sprintf("%sif %s != None:", indentUnit, p.ident),
			fmt.Sprintf("%s%squery[%s] = %s", indentUnit, indentUnit, quote(p.key), p.ident),
		)
	}
	return strings.Join(lines, "\n")
}

func authFragment(auth *authSpec) string {
	if auth == nil {
		return ""
	}
	target := "query"
	if auth.header {
		target = "headers"
	}
	return fmt.Sprintf("%sif %s:\n%s%s%s[%s] = %s", indentUnit, auth.ident, indentUnit, indentUnit, target, quote(auth.key), auth.ident)
}

// construction converts plain mappings into host package types for parameters that
// declare a class_structure. It returns the code and the keyword arguments of the call.
func construction(params []param) (string, string) {
	var b strings.Builder
	kwargs := make([]string, 0, len(params))
	for _, p := range params {
		fields := p.spec.NestedFields()
		kw := fieldIdent(p.key)
		switch {
		case p.spec.Type == capability.TypeObject && len(fields) > 0:
			className := p.spec.ClassName
			if className == "" {
				className = titleCase(p.key)
			}
			obj := p.ident + "_obj"
			fmt.Fprintf(&b, "%s%s = None\n", indentUnit, obj)
			fmt.Fprintf(&b, "%sif %s != None:\n", indentUnit, p.ident)
			fmt.Fprintf(&b, "%s%s%s = %s(\n", indentUnit, indentUnit, obj, attr("pkg", className))
			for _, field := range fields {
				desc, _ := p.spec.ClassStructure.Get(field)
				fmt.Fprintf(&b, "%s%s%s%s = %s.get(%s, %s),\n", indentUnit, indentUnit, indentUnit,
					fieldIdent(field), p.ident, quote(field), defaultForDescriptor(desc))
			}
			fmt.Fprintf(&b, "%s%s)\n", indentUnit, indentUnit)
			kwargs = append(kwargs, kw+" = "+obj)
		case p.spec.Type == capability.TypeArray && len(fields) > 0:
			itemClass := p.spec.ItemClass
			if itemClass == "" {
				itemClass = p.spec.ClassName
			}
			if itemClass == "" {
				itemClass = titleCase(p.key)
			}
			objs := p.ident + "_objects"
			fmt.Fprintf(&b, "%s%s = []\n", indentUnit, objs)
			fmt.Fprintf(&b, "%sfor item in (%s or []):\n", indentUnit, p.ident)
			fmt.Fprintf(&b, "%s%s%s.append(%s(\n", indentUnit, indentUnit, objs, attr("pkg", itemClass))
			for _, field := range fields {
				fmt.Fprintf(&b, "%s%s%s%s = item[%s],\n", indentUnit, indentUnit, indentUnit, fieldIdent(field), quote(field))
			}
			fmt.Fprintf(&b, "%s%s))\n", indentUnit, indentUnit)
			kwargs = append(kwargs, kw+" = "+objs)
		default:
			kwargs = append(kwargs, kw+" = "+p.ident)
		}
	}
	return strings.TrimRight(b.String(), "\n"), strings.Join(kwargs, ", ")
}

// transform copies fields out of a non-mapping package result, driven by the declared structure.
func transform(rf *capability.ResponseFormat) string {
	if rf == nil || rf.Structure == nil {
		return indentUnit + "return result"
	}
	kind := strings.ToLower(rf.Type)
	if kind != "object" && kind != "dataclass" {
		return indentUnit + "return result"
	}

	lines := []string{indentUnit + "response = {}"}
	for pair := rf.Structure.Oldest(); pair != nil; pair = pair.Next() {
		field, info := pair.Key, pair.Value
		key := quote(field)
		if !isListType(info.Type) {
			lines = append(lines, fmt.Sprintf("%sresponse[%s] = %s", indentUnit, key, attr("result", field)))
			continue
		}
		lines = append(lines,
			fmt.Sprintf("%sresponse[%s] = []", indentUnit, key),
			fmt.Sprintf("%sfor item in %s:", indentUnit, attr("result", field)),
			fmt.Sprintf("%s%sitem_dict = {}", indentUnit, indentUnit),
		)
		if info.ItemStructure != nil {
			for sub := info.ItemStructure.Oldest(); sub != nil; sub = sub.Next() {
				lines = append(lines, fmt.Sprintf("%s%sitem_dict[%s] = %s", indentUnit, indentUnit, quote(sub.Key), attr("item", sub.Key)))
			}
		}
		lines = append(lines, fmt.Sprintf("%s%sresponse[%s].append(item_dict)", indentUnit, indentUnit, key))
	}
	lines = append(lines, indentUnit+"return response")
	return strings.Join(lines, "\n")
}

func isListType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	return t == "array" || strings.HasPrefix(t, "list")
}

func defaultForDescriptor(desc capability.TypeDescriptor) string {
	d := strings.ToLower(string(desc))
	switch {
	case strings.Contains(d, "integer") || d == "int":
		return "0"
	case strings.Contains(d, "boolean") || d == "bool":
		return "False"
	case strings.Contains(d, "list") || strings.Contains(d, "array"):
		return "[]"
	case strings.Contains(d, "dict") || strings.Contains(d, "object"):
		return "{}"
	default:
		return `""`
	}
}

func stringList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = quote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// titleCase upper-cases the first letter of every alphabetic run, e.g. flight_data -> Flight_Data.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		isLetter := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
		if isLetter && !prevLetter && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
		prevLetter = isLetter
	}
	return sanitize(b.String())
}
