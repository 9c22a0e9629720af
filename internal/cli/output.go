package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tOgg1/linksync/internal/models"
)

// writeJSON writes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as a single JSON line.
func writeJSONLine(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}

const contentWidth = 72

func messageRows(messages []models.Message) [][]string {
	rows := make([][]string, 0, len(messages))
	for i, msg := range messages {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			msg.CreatedAt.Local().Format(time.DateTime),
			string(msg.Type),
			truncate(msg.Content, contentWidth),
		})
	}
	return rows
}

func writeMessages(out io.Writer, messages []models.Message) error {
	return writeTable(out, []string{"#", "SENT", "TYPE", "CONTENT"}, messageRows(messages))
}
