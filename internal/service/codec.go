package service

import (
	"encoding/json"
	"fmt"
)

// jsonCodec lets Connect handlers and clients speak plain JSON with
// ordinary Go structs as message types. Browser clients post JSON bodies
// directly to the procedure paths.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}
