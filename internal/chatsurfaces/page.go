package chatsurfaces

// Page is a generic keyset-paginated page used where callers want a
// surface-agnostic item list (e.g. the private chat message list, whose
// concrete row type is an internal detail of internal/chatsurfaces/private).
type Page struct {
	Items      []interface{}
	NextCursor string
}
