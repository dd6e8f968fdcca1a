// Package micheline performs syntactic validation of Micheline JSON data
// expressions. It does not type-check values against a contract interface.
package micheline

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	intPattern        = regexp.MustCompile(`^-?[0-9]+$`)
	instructionPrim   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	annotationPattern = regexp.MustCompile(`^[@:%][_0-9a-zA-Z.%@]*$`)
)

// arity of data primitives; -1 means "at least two".
var dataPrims = map[string]int{
	"Unit":  0,
	"True":  0,
	"False": 0,
	"None":  0,
	"Some":  1,
	"Left":  1,
	"Right": 1,
	"Pair":  -1,
	"Elt":   2,
}

// SyntaxError reports where in the expression validation failed.
type SyntaxError struct {
	Path   string
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (at %s)", e.Reason, e.Path)
}

// Validator adapts AssertData to the pipeline's structured-data validator.
type Validator struct{}

func (Validator) AssertValid(value json.RawMessage) error {
	return AssertData(value)
}

// AssertData fails with a *SyntaxError when raw is not a well-formed Micheline data expression.
func AssertData(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &SyntaxError{Reason: "empty expression"}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return &SyntaxError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return &SyntaxError{Reason: "trailing data after expression"}
	}
	return checkData(node, "", false)
}

func checkData(node any, path string, inSeq bool) error {
	switch v := node.(type) {
	case []any:
		for i, item := range v {
			if err := checkData(item, fmt.Sprintf("%s/%d", path, i), true); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return checkObject(v, path, inSeq)
	default:
		return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("unexpected %s, expected object or sequence", jsonKind(node))}
	}
}

func checkObject(obj map[string]any, path string, inSeq bool) error {
	if len(obj) == 1 {
		for key, val := range obj {
			switch key {
			case "int":
				s, ok := val.(string)
				if !ok || !intPattern.MatchString(s) {
					return &SyntaxError{Path: pathOrRoot(path), Reason: "int literal must be a decimal string"}
				}
				return nil
			case "string":
				if _, ok := val.(string); !ok {
					return &SyntaxError{Path: pathOrRoot(path), Reason: "string literal must be a JSON string"}
				}
				return nil
			case "bytes":
				s, ok := val.(string)
				if !ok {
					return &SyntaxError{Path: pathOrRoot(path), Reason: "bytes literal must be a JSON string"}
				}
				if _, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err != nil {
					return &SyntaxError{Path: pathOrRoot(path), Reason: "bytes literal must be hex encoded"}
				}
				return nil
			}
		}
	}
	rawPrim, ok := obj["prim"]
	if !ok {
		return &SyntaxError{Path: pathOrRoot(path), Reason: "object is neither a literal nor a primitive application"}
	}
	for key := range obj {
		if key != "prim" && key != "args" && key != "annots" {
			return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("unexpected key %q", key)}
		}
	}
	prim, ok := rawPrim.(string)
	if !ok || prim == "" {
		return &SyntaxError{Path: pathOrRoot(path), Reason: "prim must be a non-empty string"}
	}
	var args []any
	if rawArgs, present := obj["args"]; present {
		if args, ok = rawArgs.([]any); !ok {
			return &SyntaxError{Path: path + "/args", Reason: "args must be an array"}
		}
	}
	if rawAnnots, present := obj["annots"]; present {
		if err := checkAnnots(rawAnnots, path+"/annots"); err != nil {
			return err
		}
	}

	if arity, isData := dataPrims[prim]; isData {
		if prim == "Elt" && !inSeq {
			return &SyntaxError{Path: pathOrRoot(path), Reason: "Elt is only valid inside a map literal"}
		}
		if arity == -1 && len(args) < 2 {
			return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("%s expects at least 2 arguments, got %d", prim, len(args))}
		}
		if arity >= 0 && len(args) != arity {
			return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("%s expects %d arguments, got %d", prim, arity, len(args))}
		}
		for i, arg := range args {
			if err := checkData(arg, fmt.Sprintf("%s/args/%d", path, i), false); err != nil {
				return err
			}
		}
		return nil
	}

	// Instructions only appear inside lambda bodies, which are sequences.
	if !instructionPrim.MatchString(prim) {
		return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("unknown data primitive %q", prim)}
	}
	if !inSeq {
		return &SyntaxError{Path: pathOrRoot(path), Reason: fmt.Sprintf("instruction %s outside of a sequence", prim)}
	}
	for i, arg := range args {
		if err := checkInstructionArg(arg, fmt.Sprintf("%s/args/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Instruction arguments may be types (lower-case prims), sequences or data.
func checkInstructionArg(node any, path string) error {
	obj, ok := node.(map[string]any)
	if !ok {
		return checkData(node, path, false)
	}
	prim, _ := obj["prim"].(string)
	if prim == "" || !isTypePrim(prim) {
		return checkData(node, path, false)
	}
	if rawArgs, present := obj["args"]; present {
		args, ok := rawArgs.([]any)
		if !ok {
			return &SyntaxError{Path: path + "/args", Reason: "args must be an array"}
		}
		for i, arg := range args {
			if err := checkInstructionArg(arg, fmt.Sprintf("%s/args/%d", path, i)); err != nil {
				return err
			}
		}
	}
	if rawAnnots, present := obj["annots"]; present {
		return checkAnnots(rawAnnots, path+"/annots")
	}
	return nil
}

func isTypePrim(prim string) bool {
	return prim[0] >= 'a' && prim[0] <= 'z'
}

func checkAnnots(raw any, path string) error {
	annots, ok := raw.([]any)
	if !ok {
		return &SyntaxError{Path: path, Reason: "annots must be an array"}
	}
	for i, a := range annots {
		s, ok := a.(string)
		if !ok || !annotationPattern.MatchString(s) {
			return &SyntaxError{Path: fmt.Sprintf("%s/%d", path, i), Reason: "malformed annotation"}
		}
	}
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func pathOrRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
