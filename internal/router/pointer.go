package router

import (
	"fmt"
	"strings"
)

// splitPointer parses a JSON pointer ("/a/b~1c") into its unescaped tokens
func splitPointer(ptr string) ([]string, error) {
	if ptr == "" || !strings.HasPrefix(ptr, "/") {
		return nil, fmt.Errorf("invalid key pointer %q", ptr)
	}
	parts := strings.Split(ptr[1:], "/")
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid key pointer %q: empty token", ptr)
		}
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return parts, nil
}

// setPointer writes value at ptr inside doc, creating intermediate objects
func setPointer(doc map[string]any, ptr string, value any) error {
	tokens, err := splitPointer(ptr)
	if err != nil {
		return err
	}

	cur := doc
	for _, tok := range tokens[:len(tokens)-1] {
		next, exists := cur[tok]
		if !exists || next == nil {
			child := map[string]any{}
			cur[tok] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %s: %q is not an object", ptr, tok)
		}
		cur = child
	}
	cur[tokens[len(tokens)-1]] = value
	return nil
}
