package singular

import "encoding/json"

func MarshalEvent(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

func UnmarshalEvent(b []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(b, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}
