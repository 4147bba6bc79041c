package model

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// CountID identifies a count record. Server-assigned ids are integers,
// ids minted on a device (guest or offline captures) are opaque strings.
// The zero value is "no id".
type CountID struct {
	local    string
	remote   int64
	isRemote bool
}

// LocalID wraps a client-generated identifier.
func LocalID(id string) CountID {
	return CountID{local: id}
}

// RemoteID wraps a server-assigned identifier.
func RemoteID(id int64) CountID {
	return CountID{remote: id, isRemote: true}
}

func (id CountID) IsRemote() bool { return id.isRemote }

func (id CountID) IsLocal() bool { return !id.isRemote && id.local != "" }

func (id CountID) IsZero() bool { return !id.isRemote && id.local == "" }

// Int64 returns the server id, if this is one.
func (id CountID) Int64() (int64, bool) {
	return id.remote, id.isRemote
}

func (id CountID) String() string {
	if id.isRemote {
		return strconv.FormatInt(id.remote, 10)
	}
	return id.local
}

// MarshalJSON encodes remote ids as numbers and local ids as strings.
func (id CountID) MarshalJSON() ([]byte, error) {
	switch {
	case id.isRemote:
		return []byte(strconv.FormatInt(id.remote, 10)), nil
	case id.local == "":
		return []byte("null"), nil
	default:
		return json.Marshal(id.local)
	}
}

// UnmarshalJSON accepts a number (remote) or a string (local). A string of
// digits stays local: the two id spaces never convert implicitly.
func (id *CountID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = CountID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LocalID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("count id: %w", err)
	}
	*id = RemoteID(n)
	return nil
}
