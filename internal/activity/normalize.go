// ABOUTME: Normalizer turning strings and partial objects into canonical Activities
// ABOUTME: Unknown top-level keys are relocated into ChannelData instead of dropped

package activity

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

const channelDataKey = "channelData"

// schemaFields maps each canonical JSON key to its struct field index.
var schemaFields = buildSchemaFields()

func buildSchemaFields() map[string]int {
	t := reflect.TypeOf(Activity{})
	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = i
	}
	return fields
}

// IsSchemaField reports whether key is a canonical Activity field.
func IsSchemaField(key string) bool {
	_, ok := schemaFields[key]
	return ok
}

// Normalize converts a plain string, a partial object or an Activity into a
// canonical Activity. It never fails: anything it cannot place in a typed
// field ends up in ChannelData.
func Normalize(msg any) *Activity {
	switch m := msg.(type) {
	case nil:
		return &Activity{Type: TypeMessage, ChannelData: map[string]any{}}
	case string:
		return &Activity{Type: TypeMessage, Text: m, ChannelData: map[string]any{}}
	case *Activity:
		if m == nil {
			return Normalize(nil)
		}
		return fromActivity(m)
	case Activity:
		return fromActivity(&m)
	case map[string]any:
		return fromMap(m)
	case json.RawMessage:
		return fromJSON(m)
	case []byte:
		return fromJSON(m)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Normalize(fmt.Sprint(msg))
	}
	return fromJSON(data)
}

func fromActivity(src *Activity) *Activity {
	act := src.Clone()
	if act.Type == "" {
		act.Type = TypeMessage
	}
	return act
}

func fromJSON(data []byte) *Activity {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return Normalize(strings.TrimSpace(string(data)))
	}
	return fromMap(m)
}

func fromMap(m map[string]any) *Activity {
	act := &Activity{ChannelData: map[string]any{}}
	if raw, present := m[channelDataKey]; present && raw != nil {
		if cd, ok := asMap(raw); ok {
			for k, v := range cd {
				act.ChannelData[k] = v
			}
		} else {
			act.ChannelData[channelDataKey] = raw
		}
	}

	target := reflect.ValueOf(act).Elem()
	for key, value := range m {
		if key == channelDataKey {
			continue
		}
		idx, known := schemaFields[key]
		if known && assignField(target.Field(idx), value) {
			continue
		}
		// Input's own channelData takes precedence over relocated keys.
		if _, exists := act.ChannelData[key]; !exists {
			act.ChannelData[key] = value
		}
	}

	if act.Type == "" {
		act.Type = TypeMessage
	}
	return act
}

// assignField decodes value into field through its JSON form. It reports
// false when the value does not fit the field's type.
func assignField(field reflect.Value, value any) bool {
	if value == nil {
		return true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	ptr := reflect.New(field.Type())
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return false
	}
	field.Set(ptr.Elem())
	return true
}
