package interfaces

// CloneJSONMap deep-copies a JSON-shaped map (nested maps, slices and
// scalars). Callers hand copies across component boundaries so no one
// aliases shared state.
func CloneJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneJSONValue(v)
	}
	return out
}

func cloneJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneJSONMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSONValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the call.
func (c ToolCall) Clone() ToolCall {
	c.Arguments = CloneJSONMap(c.Arguments)
	return c
}

// Clone returns a deep copy of the result, nil for nil.
func (r *ToolResult) Clone() *ToolResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Arguments = CloneJSONMap(r.Arguments)
	return &cp
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	if len(t.Calls) > 0 {
		calls := make([]ToolCall, len(t.Calls))
		for i, c := range t.Calls {
			calls[i] = c.Clone()
		}
		t.Calls = calls
	}
	t.Result = t.Result.Clone()
	return t
}

// CloneTurns returns a deep copy of a turn list.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the descriptor.
func (d ToolDescriptor) Clone() ToolDescriptor {
	d.InputSchema = CloneJSONMap(d.InputSchema)
	return d
}
