package state

// deepMerge folds src into dst: both sides objects recurses key-wise;
// arrays replace wholesale; an explicit null at a key deletes it; anything
// else overwrites. dst is mutated and returned.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, sv := range src {
		if sv == nil {
			delete(dst, k)
			continue
		}
		dm, dstIsObj := dst[k].(map[string]any)
		sm, srcIsObj := sv.(map[string]any)
		if dstIsObj && srcIsObj {
			dst[k] = deepMerge(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}
