// Package chatsurfaces holds helpers shared by the global, trivia-live,
// and private chat pipelines — primarily the keyset-pagination cursor
// encoding every surface's message list endpoint uses.
package chatsurfaces

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncodeCursor packs a (createdAt, id) keyset position into an opaque,
// URL-safe token, the same base64(time+id) shape the teacher's
// conversation list cursor used.
func EncodeCursor(createdAt time.Time, id int64) string {
	raw := fmt.Sprintf("%s|%d", createdAt.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. An empty or malformed cursor decodes
// to the zero value with ok=false so callers can treat it as "first page".
func DecodeCursor(cursor string) (createdAt time.Time, id int64, ok bool) {
	if cursor == "" {
		return time.Time{}, 0, false
	}
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, false
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, 0, false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	return t, n, true
}

// EncodeCursorID is EncodeCursor for surfaces keyed by a uuid string id
// (DM and group messages) rather than an int64.
func EncodeCursorID(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", createdAt.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursorID reverses EncodeCursorID.
func DecodeCursorID(cursor string) (createdAt time.Time, id string, ok bool) {
	if cursor == "" {
		return time.Time{}, "", false
	}
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", false
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", false
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", false
	}
	return t, parts[1], true
}
