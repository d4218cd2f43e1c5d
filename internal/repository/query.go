package repository

import "github.com/Masterminds/squirrel"

func applyWhere(b squirrel.SelectBuilder, where squirrel.And) squirrel.SelectBuilder {
	if len(where) == 0 {
		return b
	}
	return b.Where(where)
}
