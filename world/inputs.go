package world

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeInputs validates caller-supplied JSON inputs and re-encodes them as
// the compact value tree handed to the engine at world creation. Empty
// input means no inputs. The top level must be a JSON object.
func EncodeInputs(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("inputs are not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, errors.New("inputs must be a JSON object")
	}
	data, err := msgpack.Marshal(jsonValue(root))
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	return data, nil
}

// jsonValue converts a parsed JSON node into plain Go values, preserving
// the integer/float distinction the engine's number type keeps.
func jsonValue(r gjson.Result) any {
	switch {
	case r.Type == gjson.Null:
		return nil
	case r.Type == gjson.True, r.Type == gjson.False:
		return r.Bool()
	case r.Type == gjson.Number:
		f := r.Num
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case r.Type == gjson.String:
		return r.Str
	case r.IsArray():
		arr := make([]any, 0, 8)
		r.ForEach(func(_, v gjson.Result) bool {
			arr = append(arr, jsonValue(v))
			return true
		})
		return arr
	case r.IsObject():
		m := make(map[string]any)
		r.ForEach(func(k, v gjson.Result) bool {
			m[k.Str] = jsonValue(v)
			return true
		})
		return m
	default:
		return nil
	}
}
