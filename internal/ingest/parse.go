package ingest

import (
	"fmt"
	"time"

	"github.com/coffersTech/logextract/internal/model"
	"github.com/valyala/fastjson"
)

// ParseRecords decodes a JSON object or array of objects into log records.
// Missing timestamps default to now, missing services to "default" and
// missing hosts to fallbackHost.
func ParseRecords(p *fastjson.Parser, body []byte, fallbackHost string) ([]model.LogRecord, error) {
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, err
	}

	switch v.Type() {
	case fastjson.TypeArray:
		arr, _ := v.Array()
		records := make([]model.LogRecord, 0, len(arr))
		for i, val := range arr {
			if val.Type() != fastjson.TypeObject {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			records = append(records, toRecord(val, fallbackHost))
		}
		return records, nil
	case fastjson.TypeObject:
		return []model.LogRecord{toRecord(v, fallbackHost)}, nil
	default:
		return nil, fmt.Errorf("expected object or array, got %s", v.Type())
	}
}

func toRecord(val *fastjson.Value, fallbackHost string) model.LogRecord {
	ts := val.GetInt64("timestamp")
	if ts == 0 {
		ts = time.Now().UnixNano()
	}

	service := string(val.GetStringBytes("service"))
	if service == "" {
		service = "default"
	}

	host := string(val.GetStringBytes("host"))
	if host == "" {
		host = fallbackHost
	}

	msg := string(val.GetStringBytes("message"))
	if msg == "" {
		msg = string(val.GetStringBytes("msg"))
	}

	return model.LogRecord{
		Timestamp: ts,
		Level:     string(val.GetStringBytes("level")),
		Service:   service,
		Host:      host,
		Message:   msg,
	}
}
