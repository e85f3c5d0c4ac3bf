// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package unitdata

// kvEntry is a row of the kv table. Data holds the JSON encoded value.
type kvEntry struct {
	Key  string `db:"key"`
	Data string `db:"data"`
}

// keyPrefix selects the keys starting with Prefix.
type keyPrefix struct {
	Prefix string `db:"prefix"`
}
