package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadVersion 当前载荷版本
const PayloadVersion = 1

// ErrPayloadVersion 载荷版本不支持
var ErrPayloadVersion = errors.New("unsupported payload version")

// Payload 带版本的不透明 JSON 载荷，仅用于审计与回显
// 只在真正需要读取的位置调用 Decode，账本字段不从这里取值
type Payload struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewPayload 将任意值编码为当前版本载荷
func NewPayload(v interface{}) (Payload, error) {
	if v == nil {
		return Payload{}, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return Payload{Version: PayloadVersion, Data: raw}, nil
	}
	if raw, ok := v.([]byte); ok {
		if !json.Valid(raw) {
			return Payload{}, fmt.Errorf("payload is not valid json")
		}
		return Payload{Version: PayloadVersion, Data: append(json.RawMessage(nil), raw...)}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Version: PayloadVersion, Data: data}, nil
}

// MustPayload 编码失败时返回空载荷
func MustPayload(v interface{}) Payload {
	p, err := NewPayload(v)
	if err != nil {
		return Payload{}
	}
	return p
}

// IsEmpty 是否为空载荷
func (p Payload) IsEmpty() bool {
	return len(p.Data) == 0
}

// Decode 解码载荷内容
func (p Payload) Decode(out interface{}) error {
	if p.IsEmpty() {
		return nil
	}
	if p.Version != PayloadVersion {
		return fmt.Errorf("%w: %d", ErrPayloadVersion, p.Version)
	}
	return json.Unmarshal(p.Data, out)
}

// Value 实现 driver.Valuer
func (p Payload) Value() (driver.Value, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (p *Payload) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", value)
	}
	if len(raw) == 0 {
		*p = Payload{}
		return nil
	}
	return json.Unmarshal(raw, p)
}
