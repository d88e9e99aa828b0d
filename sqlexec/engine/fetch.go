package engine

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec"
)

const maxFetchBytes = 64 << 20

// FetchRows downloads and parses a file source's raw bytes into rows. CSV
// and JSON are supported; the first CSV record is treated as the header.
func FetchRows(ctx context.Context, client *http.Client, desc *source.Descriptor) ([]map[string]any, error) {
	if desc.SubKind == source.SubKindExcel {
		return nil, &sqlexec.Error{
			Class:   sqlexec.ClassPermanent,
			Engine:  sqlexec.KindEmbedded,
			Message: "excel sources must be materialized by the data service before execution",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.FileURL, nil)
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Engine: sqlexec.KindEmbedded, Message: "bad file url", Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindEmbedded, Message: "fetch file", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := sqlexec.ClassPermanent
		if resp.StatusCode >= 500 {
			class = sqlexec.ClassTransient
		}
		return nil, &sqlexec.Error{
			Class:   class,
			Engine:  sqlexec.KindEmbedded,
			Message: fmt.Sprintf("fetch file: status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassTransient, Engine: sqlexec.KindEmbedded, Message: "read file body", Cause: err}
	}

	if isJSONPayload(desc, resp.Header.Get("Content-Type"), body) {
		return ParseJSONRows(body)
	}
	return ParseCSVRows(body)
}

func isJSONPayload(desc *source.Descriptor, contentType string, body []byte) bool {
	if desc.SubKind == source.SubKindJSON {
		return true
	}
	if desc.SubKind == source.SubKindCSV {
		return false
	}
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{")
}

// ParseJSONRows accepts a top-level array of objects or an object with a
// "data" array.
func ParseJSONRows(body []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var wrapper struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Data != nil {
		return wrapper.Data, nil
	}
	return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Message: "file is not a JSON array of records"}
}

// ParseCSVRows parses header-first CSV, inferring integer and float cells.
func ParseCSVRows(body []byte) ([]map[string]any, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &sqlexec.Error{Class: sqlexec.ClassPermanent, Message: "parse csv", Cause: err}
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(record) {
				row[name] = nil
				continue
			}
			row[name] = inferCell(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func inferCell(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return cell
}
