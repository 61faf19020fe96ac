package models

import (
	"encoding/json"
	"errors"
)

// Activity is an upstream activity record
// Only ID is interpreted, the rest of the payload is kept as is and written back unchanged
type Activity struct {
	ID  int64
	Raw json.RawMessage
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var head struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.ID == nil {
		return errors.New("activity payload has no id")
	}

	a.ID = *head.ID
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (a Activity) MarshalJSON() ([]byte, error) {
	if len(a.Raw) == 0 {
		return json.Marshal(struct {
			ID int64 `json:"id"`
		}{ID: a.ID})
	}
	return a.Raw, nil
}

// Decode payload into v, useful to read fields the cache doesn't care about
func (a Activity) Decode(v any) error {
	if len(a.Raw) == 0 {
		return errors.New("activity payload is empty")
	}
	return json.Unmarshal(a.Raw, v)
}
