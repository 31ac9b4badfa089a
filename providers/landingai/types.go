package landingai

// ParseResponse repräsentiert die JSON-Antwort des Parse-Endpunkts.
// Relevant ist für uns nur das extrahierte Markdown; Seiten-Marker
// stecken als HTML-Tabellenzeilen im Markdown selbst.
type ParseResponse struct {
	Markdown string `json:"markdown"`
	Metadata struct {
		PageCount  int    `json:"page_count"`
		DurationMs int    `json:"duration_ms"`
		Model      string `json:"model"`
	} `json:"metadata"`
}

// ErrorResponse ist der Fehler-Body der Parse-API.
type ErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
