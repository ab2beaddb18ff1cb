package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard grants every permission when present in a PermissionList.
const Wildcard = "*"

// Permission keys guarding clinical writes.
const (
	PermClinicalWrite  = "clinical.write"
	PermClinicalUpdate = "clinical.update"
	PermClinicalDelete = "clinical.delete"
	PermClinicalExport = "clinical.export"
)

// PermissionSet is the permission payload returned by the identity service.
// It is one of PermissionAll, PermissionList or PermissionTree.
type PermissionSet interface {
	permissionSet()
}

// PermissionAll is the {"all": true} form.
type PermissionAll struct{}

// PermissionList is the array form, e.g. ["clinical.write", "clinical.read"].
type PermissionList []string

// PermissionTree is the nested form, e.g. {"clinical": {"write": true}}.
type PermissionTree map[string]map[string]bool

func (PermissionAll) permissionSet()  {}
func (PermissionList) permissionSet() {}
func (PermissionTree) permissionSet() {}

func (PermissionAll) MarshalJSON() ([]byte, error) {
	return []byte(`{"all":true}`), nil
}

// SplitKey splits a permission key of the form "<area>.<action>".
func SplitKey(key string) (area, action string, ok bool) {
	area, action, found := strings.Cut(key, ".")
	if !found || area == "" || action == "" {
		return "", "", false
	}
	return area, action, true
}

// Satisfies reports whether set grants key. Malformed keys are denied.
// Otherwise a wildcard grant wins, then an exact list entry, then a true
// leaf in the nested form.
func Satisfies(set PermissionSet, key string) bool {
	area, action, ok := SplitKey(key)
	if !ok {
		return false
	}
	switch p := set.(type) {
	case PermissionAll:
		return true
	case PermissionList:
		return p.grants(key)
	case PermissionTree:
		return p.grants(area, action)
	default:
		return false
	}
}

func (l PermissionList) grants(key string) bool {
	for _, p := range l {
		if p == Wildcard {
			return true
		}
	}
	for _, p := range l {
		if p == key {
			return true
		}
	}
	return false
}

func (t PermissionTree) grants(area, action string) bool {
	actions, ok := t[area]
	if !ok {
		return false
	}
	return actions[action]
}

// ParsePermissions decodes any of the three wire forms. A missing or null
// payload yields an empty list.
func ParsePermissions(raw json.RawMessage) (PermissionSet, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PermissionList{}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []interface{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode permission list: %w", err)
		}
		list := make(PermissionList, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				list = append(list, s)
			}
		}
		return list, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode permission object: %w", err)
		}
		if all, ok := obj["all"]; ok {
			var flag bool
			if json.Unmarshal(all, &flag) == nil && flag {
				return PermissionAll{}, nil
			}
		}
		tree := PermissionTree{}
		for area, body := range obj {
			if area == "all" {
				continue
			}
			var actions map[string]interface{}
			if err := json.Unmarshal(body, &actions); err != nil {
				// non-object areas carry no grants
				continue
			}
			leaves := make(map[string]bool, len(actions))
			for action, v := range actions {
				if b, ok := v.(bool); ok {
					leaves[action] = b
				}
			}
			tree[area] = leaves
		}
		return tree, nil
	}

	return nil, fmt.Errorf("unsupported permissions payload")
}
