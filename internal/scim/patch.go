package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SCIM 2.0 message schema URNs (RFC 7644 3.1, 3.12)
const (
	PatchOpSchema      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	ListResponseSchema = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	ErrorSchema        = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// PatchRequest is the wire form of a SCIM PATCH request (RFC 7644 3.5.2)
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is one raw PATCH instruction. Value stays undecoded until
// normalization so the key order of object-valued payloads is preserved.
type PatchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// OpCode is a validated PATCH operation code
type OpCode int

const (
	OpAdd OpCode = iota
	OpRemove
	OpReplace
)

// String returns the lower-case wire form of the op code
func (c OpCode) String() string {
	switch c {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	default:
		return fmt.Sprintf("opcode(%d)", int(c))
	}
}

// ParseOpCode validates a raw op code, case-insensitively
func ParseOpCode(op string) (OpCode, error) {
	switch strings.ToLower(op) {
	case "add":
		return OpAdd, nil
	case "remove":
		return OpRemove, nil
	case "replace":
		return OpReplace, nil
	default:
		return 0, BadRequest(fmt.Sprintf("Unknown PATCH op %q", op))
	}
}

// PathValue pairs a resolved path with its operation value. A slice of
// pairs, rather than a map, keeps the submission order of path-less
// object-valued operations; ComplexAttributePath also cannot be a map key.
type PathValue struct {
	Path  Path
	Value any
}

// ResourceHandler applies normalized PATCH operations to one resource type.
// HandleAdd and HandleRemove receive the resolved path and decoded value;
// path is nil only for an add in the path-less shorthand form, in which case
// value is a []PathValue. HandleReplace always receives pairs: a single-path
// replace arrives as a one-element slice. Handlers mutate the resource in
// place; they never roll back earlier mutations on failure.
type ResourceHandler interface {
	AttributeMap() AttributeMap
	HandleAdd(ctx context.Context, path Path, value any) error
	HandleRemove(ctx context.Context, path Path, value any) error
	HandleReplace(ctx context.Context, values []PathValue) error
}

// ApplyPatch validates and applies a PATCH operation list to a resource
// through its handler. Operations apply strictly in submission order; the
// first failure propagates unchanged and earlier mutations stay in place,
// so callers that need all-or-nothing semantics must avoid persisting on
// error.
func ApplyPatch(ctx context.Context, h ResourceHandler, ops []PatchOperation) error {
	for _, op := range ops {
		code, err := ParseOpCode(op.Op)
		if err != nil {
			return err
		}

		// The no-target rule is checked on the raw path: a remove may not
		// rely on the object shorthand to name its targets.
		if code == OpRemove && strings.TrimSpace(op.Path) == "" {
			return NoTarget(`"path" must be specified for remove operations`)
		}

		path, value, err := normalizeOperation(op, h.AttributeMap())
		if err != nil {
			return err
		}

		switch code {
		case OpAdd:
			err = h.HandleAdd(ctx, path, value)
		case OpRemove:
			err = h.HandleRemove(ctx, path, value)
		case OpReplace:
			var pairs []PathValue
			if path == nil {
				pairs = value.([]PathValue)
			} else {
				pairs = []PathValue{{Path: path, Value: value}}
			}
			err = h.HandleReplace(ctx, pairs)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// normalizeOperation reduces a raw operation to a resolved path and decoded
// value. The path-less object shorthand — no path, object value — resolves
// every key of the object as its own path expression, yielding a nil path
// and a []PathValue in the object's key order. Everything else resolves the
// path directly and passes the decoded value through.
func normalizeOperation(op PatchOperation, am AttributeMap) (Path, any, error) {
	rawPath := strings.TrimSpace(op.Path)

	if rawPath == "" && isJSONObject(op.Value) {
		pairs, err := resolveObjectKeys(op.Value, am)
		if err != nil {
			return nil, nil, err
		}
		return nil, pairs, nil
	}

	path, err := ResolvePath(rawPath, am)
	if err != nil {
		return nil, nil, err
	}
	value, err := decodeValue(op.Value)
	if err != nil {
		return nil, nil, err
	}
	return path, value, nil
}

// resolveObjectKeys walks a JSON object token by token so the pairs come out
// in the order the client wrote them.
func resolveObjectKeys(raw json.RawMessage, am AttributeMap) ([]PathValue, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil { // opening brace
		return nil, BadRequest(fmt.Sprintf("Invalid PATCH value: %s", err))
	}

	var pairs []PathValue
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, BadRequest(fmt.Sprintf("Invalid PATCH value: %s", err))
		}
		key := tok.(string)

		var sub json.RawMessage
		if err := dec.Decode(&sub); err != nil {
			return nil, BadRequest(fmt.Sprintf("Invalid PATCH value for %q: %s", key, err))
		}

		path, err := ResolvePath(key, am)
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(sub)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, PathValue{Path: path, Value: value})
	}
	return pairs, nil
}

// decodeValue decodes a raw JSON value into its generic Go form
func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, BadRequest(fmt.Sprintf("Invalid PATCH value: %s", err))
	}
	return v, nil
}

// isJSONObject reports whether the raw value is a JSON object
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
