package export

import (
	"log/slog"
	"mime"
)

// Media types for the export formats. They win over the host's mime.types so
// responses do not depend on the machine serving them.
var contentTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func init() {
	for ext, typ := range contentTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			slog.Warn("export: register mime type", slog.String("ext", ext), slog.Any("error", err))
		}
	}
}

// ContentType returns the media type for an export file extension such as ".csv".
func ContentType(ext string) string {
	if typ, ok := contentTypes[ext]; ok {
		return typ
	}
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	return "application/octet-stream"
}
