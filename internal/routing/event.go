package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Change feed actions. INSERT and UPDATE are indistinguishable to the
// table; both apply as an upsert.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// ChangeEvent is a single route change delivered by the change feed.
type ChangeEvent struct {
	Action string       `json:"action"`
	Data   RoutePayload `json:"data"`
}

// RoutePayload is the wire shape of a route, shared by the change feed
// and the persisted route set.
type RoutePayload struct {
	Merchant string   `json:"merchant"`
	Channel  string   `json:"channel"`
	Address  string   `json:"address"`
	Users    UserList `json:"users"`
}

// Route converts the payload into a normalized Route. A null or absent
// user list collapses to an empty set.
func (p RoutePayload) Route() Route {
	users := []string(p.Users)
	if users == nil {
		users = []string{}
	}
	return Route{
		Merchant: p.Merchant,
		Channel:  p.Channel,
		Address:  p.Address,
		Users:    users,
	}
}

// UserList is a list of user identifiers canonicalized to strings.
// The feed may deliver identifiers as JSON strings or numbers.
type UserList []string

// UnmarshalJSON decodes a JSON array of strings or numbers, coercing
// every element to its canonical string form. JSON null yields an empty
// list.
func (u *UserList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = UserList{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("user list is not an array: %w", err)
	}

	users := make(UserList, 0, len(raw))
	for i, v := range raw {
		switch id := v.(type) {
		case string:
			users = append(users, id)
		case json.Number:
			users = append(users, id.String())
		default:
			return fmt.Errorf("user identifier at index %d is neither string nor number", i)
		}
	}

	*u = users
	return nil
}

// ParseChangeEvent decodes and validates a change feed payload.
func ParseChangeEvent(payload []byte) (ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("malformed change event: %w", err)
	}

	switch event.Action {
	case ActionInsert, ActionUpdate, ActionDelete:
		return event, nil
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change event action %q", event.Action)
	}
}
