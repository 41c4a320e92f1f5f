package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// entryHeader 是单条缓存落盘时的头部，正文紧跟在换行符之后。
type entryHeader struct {
	Key      Key `json:"key"`
	Response `json:"response"`
}

func encodeEntry(key Key, resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	head, err := json.Marshal(entryHeader{Key: key, Response: *resp})
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	buf := make([]byte, 0, len(head)+1+len(resp.Body))
	buf = append(buf, head...)
	buf = append(buf, '\n')
	buf = append(buf, resp.Body...)
	return buf, nil
}

func decodeEntry(data []byte) (Key, *Response, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return Key{}, nil, errors.New("corrupt cache entry: missing header")
	}
	var head entryHeader
	if err := json.Unmarshal(data[:idx], &head); err != nil {
		return Key{}, nil, fmt.Errorf("decode cache entry: %w", err)
	}
	resp := head.Response
	resp.Body = append([]byte(nil), data[idx+1:]...)
	return head.Key, &resp, nil
}
