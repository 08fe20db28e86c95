package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/schema"
)

const tsHeader = `// Code generated by command-bridge export. DO NOT EDIT.
// Regenerate whenever an operation, channel or named type changes.
`

// tsPrelude declares the wrappers every contract shares. The fault variants
// mirror the ones the dispatcher emits when it cannot reach a handler or the
// handler breaks.
const tsPrelude = `/** A value that may be absent. */
export type Option<T> = T | null;

/** Failures raised by the bridge itself rather than by an operation. */
export type BridgeFault =
  | { type: "NotFound"; operation: string; message: string }
  | { type: "ArgumentDecodeError"; operation: string; path: string; message: string }
  | { type: "HandlerFault"; operation: string; message: string };

/** The result of every invocation. Branch on status, then on fault. */
export type Envelope<T, E> =
  | { id?: string; status: "ok"; data: T }
  | { id?: string; status: "error"; fault?: false; error: E }
  | { id?: string; status: "error"; fault: true; error: BridgeFault };
`

// TypeScript renders a model as a TypeScript declaration module.
//
// Integers wider than 32 bits are rejected: a JavaScript number holds
// integers exactly only up to 2^53, so i64 and u64 cannot round-trip.
type TypeScript struct {
	// Indent is the indentation unit. Two spaces when empty.
	Indent string
}

// NewTypeScript returns a TypeScript exporter with default settings.
func NewTypeScript() *TypeScript {
	return &TypeScript{}
}

func (e *TypeScript) Target() string   { return "ts" }
func (e *TypeScript) FileName() string { return "contract.d.ts" }

// Export renders m. Any unresolved ref or range-unsafe primitive aborts the
// whole export.
func (e *TypeScript) Export(m *schema.Model) ([]byte, error) {
	if err := m.Resolve(); err != nil {
		return nil, err
	}
	w := &tsWriter{indent: e.Indent, types: m.Types}
	if w.indent == "" {
		w.indent = "  "
	}

	var out bytes.Buffer
	out.WriteString(tsHeader)
	out.WriteString("\n")
	out.WriteString(tsPrelude)

	for _, name := range m.Types.Names() {
		decl, _ := m.Types.Lookup(name)
		body, err := w.render(name, decl, 0)
		if err != nil {
			return nil, nested(name, decl, err)
		}
		fmt.Fprintf(&out, "\nexport type %s =%s;\n", name, spaced(body))
	}

	if err := w.operations(&out, m.Operations); err != nil {
		return nil, err
	}
	if err := w.channels(&out, m.Channels); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type tsWriter struct {
	indent string
	types  *schema.TypeSet
}

func (w *tsWriter) pad(depth int) string {
	return strings.Repeat(w.indent, depth)
}

func (w *tsWriter) operations(out *bytes.Buffer, ops []schema.OperationSig) error {
	out.WriteString("\nexport interface Operations {\n")
	for _, op := range ops {
		writeDoc(out, w.pad(1), op.Description)
		fmt.Fprintf(out, "%s%s: {\n", w.pad(1), tsKey(op.Name))

		params := make([]string, 0, len(op.Params))
		for _, p := range op.Params {
			ts, err := w.render(paramPath(op.Name, p.Name), p.Type, 3)
			if err != nil {
				return nested(paramPath(op.Name, p.Name), p.Type, err)
			}
			params = append(params, fmt.Sprintf("%s%s:%s;", w.pad(3), tsKey(p.Name), spaced(ts)))
		}
		if len(params) == 0 {
			fmt.Fprintf(out, "%sparams: {};\n", w.pad(2))
		} else {
			fmt.Fprintf(out, "%sparams: {\n%s\n%s};\n", w.pad(2), strings.Join(params, "\n"), w.pad(2))
		}

		output, err := w.render(op.Name+".output", op.Output, 2)
		if err != nil {
			return nested(op.Name+".output", op.Output, err)
		}
		fmt.Fprintf(out, "%soutput:%s;\n", w.pad(2), spaced(output))

		errType := "string"
		if !op.Error.Text {
			union := schema.Union(op.Error.Variants...)
			errType, err = w.render(op.Name+".error", union, 2)
			if err != nil {
				return nested(op.Name+".error", union, err)
			}
		}
		fmt.Fprintf(out, "%serror:%s;\n", w.pad(2), spaced(errType))
		fmt.Fprintf(out, "%s};\n", w.pad(1))
	}
	out.WriteString("}\n\n")

	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	writeConstList(out, "OPERATIONS", names)
	out.WriteString("export type OperationName = keyof Operations;\n")
	out.WriteString("export type Params<N extends OperationName> = Operations[N][\"params\"];\n")
	out.WriteString("export type Output<N extends OperationName> = Operations[N][\"output\"];\n")
	out.WriteString("export type OperationError<N extends OperationName> = Operations[N][\"error\"];\n")
	out.WriteString("export type Result<N extends OperationName> = Envelope<Output<N>, OperationError<N>>;\n")
	return nil
}

func (w *tsWriter) channels(out *bytes.Buffer, channels []schema.ChannelSig) error {
	out.WriteString("\nexport interface Events {\n")
	for _, ch := range channels {
		payload, err := w.render(ch.Name+".payload", ch.Payload, 1)
		if err != nil {
			return nested(ch.Name+".payload", ch.Payload, err)
		}
		writeDoc(out, w.pad(1), ch.Description)
		fmt.Fprintf(out, "%s%s:%s;\n", w.pad(1), tsKey(ch.Name), spaced(payload))
	}
	out.WriteString("}\n\n")

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	writeConstList(out, "CHANNELS", names)
	out.WriteString("export type ChannelName = keyof Events;\n")
	out.WriteString("export type EventMessage<C extends ChannelName> = { channel: C; payload: Events[C] };\n")
	return nil
}

// render produces the TypeScript form of t. path names t in failures and
// grows the same way TypeSet.Resolve grows it. depth is the indentation
// level of the line the expression starts on.
func (w *tsWriter) render(path string, t *schema.Type, depth int) (string, error) {
	switch t.Kind {
	case schema.KindBool:
		return "boolean", nil
	case schema.KindInt, schema.KindUint:
		if t.Bits > 32 {
			return "", bridgeerr.AtPath(bridgeerr.RangeUnsafePrimitive, path,
				"%s exceeds the range a TypeScript number holds exactly", t)
		}
		return "number", nil
	case schema.KindFloat:
		return "number", nil
	case schema.KindString, schema.KindBytes:
		return "string", nil
	case schema.KindUnit:
		return "null", nil
	case schema.KindRef:
		return t.Name, nil
	case schema.KindSequence:
		elem, err := w.render(path+"[]", t.Elem, depth)
		if err != nil {
			return "", err
		}
		return "Array<" + elem + ">", nil
	case schema.KindMapping:
		elem, err := w.render(path+"{}", t.Elem, depth)
		if err != nil {
			return "", err
		}
		return "Record<string, " + elem + ">", nil
	case schema.KindOptional:
		elem, err := w.render(path, t.Elem, depth)
		if err != nil {
			return "", err
		}
		return "Option<" + elem + ">", nil
	case schema.KindRecord:
		return w.object(path, "", t.Fields, depth)
	case schema.KindUnion:
		arms := make([]string, 0, len(t.Variants))
		for _, v := range t.Variants {
			arm, err := w.object(path+"."+v.Name, v.Name, v.Fields, depth+1)
			if err != nil {
				return "", err
			}
			arms = append(arms, arm)
		}
		if len(arms) == 1 {
			return arms[0], nil
		}
		var b strings.Builder
		for _, arm := range arms {
			b.WriteString("\n" + w.pad(depth+1) + "| " + arm)
		}
		return b.String(), nil
	}
	return "", bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "unknown kind %q", t.Kind)
}

// object renders a record, or a union variant when tag is set.
func (w *tsWriter) object(path, tag string, fields []schema.Field, depth int) (string, error) {
	members := make([]string, 0, len(fields)+1)
	if tag != "" {
		members = append(members, fmt.Sprintf("%s: %s", schema.DiscriminantKey, strconv.Quote(tag)))
	}
	for _, f := range fields {
		ts, err := w.render(path+"."+f.Name, f.Type, depth+1)
		if err != nil {
			return "", err
		}
		key := tsKey(f.Name)
		if schema.IsOptional(w.types, f.Type) {
			key += "?"
		}
		members = append(members, key+":"+spaced(ts))
	}
	if len(members) == 0 {
		return "{}", nil
	}
	if tag != "" || len(members) <= 2 && !strings.Contains(strings.Join(members, ""), "\n") {
		return "{ " + strings.Join(members, "; ") + " }", nil
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, m := range members {
		b.WriteString(w.pad(depth+1) + m + ";\n")
	}
	b.WriteString(w.pad(depth) + "}")
	return b.String(), nil
}

// spaced prefixes a rendered type with the space that follows ":" or "=",
// unless it opens with a line break.
func spaced(ts string) string {
	if strings.HasPrefix(ts, "\n") {
		return ts
	}
	return " " + ts
}

func tsKey(name string) string {
	for i, r := range name {
		ok := r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9'
		if !ok {
			return strconv.Quote(name)
		}
	}
	if name == "" {
		return `""`
	}
	return name
}

func writeDoc(out *bytes.Buffer, pad, doc string) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return
	}
	doc = strings.ReplaceAll(doc, "*/", "* /")
	fmt.Fprintf(out, "%s/** %s */\n", pad, strings.ReplaceAll(doc, "\n", " "))
}

func writeConstList(out *bytes.Buffer, name string, items []string) {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = strconv.Quote(it)
	}
	fmt.Fprintf(out, "export const %s = [%s] as const;\n", name, strings.Join(quoted, ", "))
}
