package domain

import (
	"encoding/json"
	"fmt"

	"github.com/cortexmem/cortexmem/pkg/types"
)

func jsonMarshal(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return data, nil
}
