package inprocess

import (
	"fmt"

	"github.com/go-python/gpython/py"
)

// toPy converts JSON-like Go values into interpreter objects.
func toPy(value any) (py.Object, error) {
	switch v := value.(type) {
	case nil:
		return py.None, nil
	case string:
		return py.String(v), nil
	case bool:
		return py.Bool(v), nil
	case int:
		return py.Int(v), nil
	case int32:
		return py.Int(v), nil
	case int64:
		return py.Int(v), nil
	case float32:
		return py.Float(v), nil
	case float64:
		return py.Float(v), nil
	case []string:
		items := make([]py.Object, len(v))
		for i, s := range v {
			items[i] = py.String(s)
		}
		return py.NewListFromItems(items), nil
	case []any:
		items := make([]py.Object, len(v))
		for i, item := range v {
			obj, err := toPy(item)
			if err != nil {
				return nil, err
			}
			items[i] = obj
		}
		return py.NewListFromItems(items), nil
	case map[string]string:
		dict := py.NewStringDict()
		for k, s := range v {
			dict[k] = py.String(s)
		}
		return dict, nil
	case map[string]any:
		dict := py.NewStringDict()
		for k, item := range v {
			obj, err := toPy(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			dict[k] = obj
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", value)
	}
}

// fromPy converts interpreter objects back into JSON-like Go values.
// Objects without a natural mapping are returned as their repr.
func fromPy(obj py.Object) any {
	switch v := obj.(type) {
	case py.NoneType:
		return nil
	case py.String:
		return string(v)
	case py.Bool:
		return bool(v)
	case py.Int:
		return int64(v)
	case py.Float:
		return float64(v)
	case *py.List:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = fromPy(item)
		}
		return out
	case py.Tuple:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = fromPy(item)
		}
		return out
	case py.StringDict:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = fromPy(item)
		}
		return out
	}

	repr, err := py.Repr(obj)
	if err != nil {
		return fmt.Sprintf("<%s>", obj.Type().Name)
	}
	if s, ok := repr.(py.String); ok {
		return string(s)
	}
	return fmt.Sprint(repr)
}
