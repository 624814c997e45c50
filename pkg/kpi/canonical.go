package kpi

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"kpi-dashboard/pkg/models"
)

// Canonical serializes the strategy-independent content of a result: KPI name,
// resolved options, columns and rows. Keys keep column order, integers are plain
// and money is a JSON number with exactly two decimals.
func Canonical(res *models.KPIResult) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"kpi":`)
	writeString(&buf, string(res.KPI))

	buf.WriteString(`,"params":{`)
	keys := make([]string, 0, len(res.Params))
	for k := range res.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, k)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(res.Params[k]))
	}

	buf.WriteString(`},"columns":[`)
	for i, c := range res.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, c.Name)
	}

	buf.WriteString(`],"rows":[`)
	for i, r := range res.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(RowJSON(res.Columns, r))
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// RowJSON renders one row as a JSON object in column order.
func RowJSON(cols []models.Column, r models.Row) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, c.Name)
		buf.WriteByte(':')
		writeValue(&buf, r[i])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// ValueJSON renders a single value.
func ValueJSON(v models.Value) json.RawMessage {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v models.Value) {
	switch v.Kind {
	case models.KindInt:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case models.KindMoney:
		buf.WriteString(v.Money.StringFixed(2))
	default:
		writeString(buf, v.Text)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
