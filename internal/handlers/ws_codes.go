package handlers

// BadSubprotocolError closes a websocket whose client offered a subprotocol other than "game".
const BadSubprotocolError = 3000

// Error codes carried in {"type":"error"} messages and HTTP error bodies.
const (
	CodeBadRequest         = "BadRequest"
	CodeGameNotFound       = "GameNotFound"
	CodeGameFull           = "GameFull"
	CodeInvalidUpdate      = "InvalidUpdate"
	CodeCatalogUnavailable = "CatalogUnavailable"
	CodeUnknownAction      = "UnknownAction"
	CodeInternal           = "Internal"
)
